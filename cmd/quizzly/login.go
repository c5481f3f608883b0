package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the token pair",
	Long:  "Log in to the Quizzly backend and store the returned access and refresh tokens locally.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fc, err := fileConfig(cfg)
		if err != nil {
			return err
		}

		client := quizzly.NewClient(clientOptions(cfg, fc)...)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		tokens, err := client.Auth.Login(ctx, username)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Username = username
		cfg.Auth.AccessToken = tokens.AccessToken
		cfg.Auth.RefreshToken = tokens.RefreshToken
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)
		if exp, ok := quizzly.TokenExpiry(tokens.AccessToken); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Access token expires %s\n", exp.Format(time.RFC3339))
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}
