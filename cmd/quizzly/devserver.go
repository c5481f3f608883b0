package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quizzly/quizzly/sdk/golang/internal/devserver"
)

var (
	devAddr          string
	devSecret        string
	devEventInterval time.Duration
	devTokenTTL      time.Duration
)

func init() {
	devserverCmd.Flags().StringVar(&devAddr, "addr", "127.0.0.1:8080", "Listen address")
	devserverCmd.Flags().StringVar(&devSecret, "secret", "", "Token signing secret (default QUIZZLY_DEV_SECRET or a built-in value)")
	devserverCmd.Flags().DurationVar(&devEventInterval, "event-interval", 5*time.Second, "Pace of scripted quiz events; 0 disables them")
	devserverCmd.Flags().DurationVar(&devTokenTTL, "token-ttl", 15*time.Minute, "Access token lifetime")
	rootCmd.AddCommand(devserverCmd)
}

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local Quizzly backend for development",
	Long:  "Serve the auth, ticket, results and realtime endpoints in memory with a scripted quiz, for trying the SDK without the real backend.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := devserver.DefaultConfig()
		if devSecret == "" {
			devSecret = os.Getenv("QUIZZLY_DEV_SECRET")
		}
		if devSecret != "" {
			cfg.Secret = []byte(devSecret)
		}
		cfg.EventInterval = devEventInterval
		cfg.AccessTokenTTL = devTokenTTL
		cfg.Logger = log.With().Str("component", "devserver").Logger()

		srv := &http.Server{
			Addr:              devAddr,
			Handler:           devserver.New(cfg).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", devAddr).Msg("devserver listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
