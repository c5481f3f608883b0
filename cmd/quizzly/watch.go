package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

var (
	watchCodec string
	watchRaw   bool
)

func init() {
	watchCmd.Flags().StringVar(&watchCodec, "codec", "", "Wire codec: json or cbor (default from config)")
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "Print payloads as JSON instead of a one-line summary")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <quiz-id>",
	Short: "Join a live quiz and print its events",
	Long:  "Open a realtime session for a quiz and print every event until interrupted. The connection is kept alive with heartbeats and reconnects automatically.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := parseQuizID(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, fc, err := getClient(cfg)
		if err != nil {
			return err
		}
		if watchCodec != "" {
			fc.Codec = watchCodec
		}
		rc, err := fc.Realtime()
		if err != nil {
			return err
		}
		rc.Logger = log.Logger
		rc.OnStateChange = func(c quizzly.StateChange) {
			ev := log.Info().Str("from", c.From.String()).Str("to", c.To.String())
			if c.Attempt > 0 {
				ev = ev.Int("attempt", c.Attempt).Dur("delay", c.Delay)
			}
			if c.Err != nil {
				ev = ev.AnErr("cause", c.Err)
			}
			ev.Msg("connection state")
		}

		session, err := quizzly.NewSessionClient(client.Tickets, client.Credentials(),
			quizzly.NewWSDialer(client.WSURL(), rc.Codec), rc)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := session.Connect(ctx, sessionID); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect: %w", err)
		}

		return printEvents(ctx, cmd.OutOrStdout(), session)
	},
}

// printEvents prints until ctx ends or the session does. A session that
// ends in Failed reports its cause.
func printEvents(ctx context.Context, out io.Writer, session *quizzly.SessionClient) error {
	stream := session.Events()
	for {
		select {
		case <-ctx.Done():
			session.Disconnect()
			return nil
		case ev, ok := <-stream.C:
			if !ok {
				if session.State() == quizzly.StateFailed {
					return stream.Err()
				}
				return nil
			}
			printEvent(out, ev)
		}
	}
}

func printEvent(out io.Writer, ev quizzly.Event) {
	ts := ev.ReceivedAt.Format("15:04:05.000")
	if !watchRaw {
		fmt.Fprintf(out, "%s  %-22s %d bytes\n", ts, ev.Type, len(ev.Payload))
		return
	}
	var v map[string]any
	if err := ev.Decode(&v); err != nil {
		fmt.Fprintf(out, "%s  %-22s <undecodable: %v>\n", ts, ev.Type, err)
		return
	}
	raw, _ := json.Marshal(v)
	fmt.Fprintf(out, "%s  %-22s %s\n", ts, ev.Type, raw)
}
