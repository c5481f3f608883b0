package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and token status",
	Long:  "Display the current configuration, the effective realtime settings, and whether the stored access token has expired.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fc, err := fileConfig(cfg)
		if err != nil {
			return err
		}
		client := quizzly.NewClient(clientOptions(cfg, fc)...)

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Environment: %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		fmt.Fprintf(out, "  Base URL:    %s\n", client.BaseURL())
		fmt.Fprintf(out, "  WebSocket:   %s\n", client.WSURL())

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		fmt.Fprintf(out, "  Username:    %s\n", valueOrDefault(cfg.Auth.Username, "(not logged in)"))

		tokenStatus := "none"
		if cfg.Auth.AccessToken != "" {
			if expires, ok := quizzly.TokenExpiry(cfg.Auth.AccessToken); ok {
				if time.Now().Before(expires) {
					tokenStatus = fmt.Sprintf("valid (expires %s)", expires.Format(time.RFC3339))
				} else {
					tokenStatus = fmt.Sprintf("EXPIRED (expired %s)", expires.Format(time.RFC3339))
				}
			} else {
				tokenStatus = fmt.Sprintf("present (%s, no readable expiry)", maskKey(cfg.Auth.AccessToken))
			}
		}
		fmt.Fprintf(out, "  Token:       %s\n", tokenStatus)
		if cfg.Auth.RefreshToken != "" {
			fmt.Fprintf(out, "  Refresh:     %s\n", maskKey(cfg.Auth.RefreshToken))
		} else {
			fmt.Fprintln(out, "  Refresh:     (not set)")
		}

		rc, err := fc.Realtime()
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Realtime:")
		printRealtime(out, rc)
		return nil
	},
}

// printRealtime prints the effective realtime tunables.
func printRealtime(out io.Writer, rc quizzly.RealtimeConfig) {
	fmt.Fprintf(out, "  Codec:       %s\n", rc.Codec.Name())
	fmt.Fprintf(out, "  Heartbeat:   %s (grace %s)\n", rc.HeartbeatInterval, rc.ReconnectGracePeriod)
	fmt.Fprintf(out, "  Reconnect:   %d attempts, %s\n", rc.MaxReconnectAttempts, formatDelays(rc.Policy().Sequence()))
}

func formatDelays(delays []time.Duration) string {
	parts := make([]string, len(delays))
	for i, d := range delays {
		parts[i] = d.String()
	}
	return strings.Join(parts, ", ")
}

// maskKey shows the first 12 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
