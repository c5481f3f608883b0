package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resultsCmd)
}

var resultsCmd = &cobra.Command{
	Use:   "results <quiz-id>",
	Short: "Print the standings of a quiz",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseQuizID(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, _, err := getClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		res, err := client.Sessions.Results(ctx, id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (quiz %d)\n", valueOrDefault(res.Title, "Untitled"), res.SessionID)
		if !res.EndedAt.IsZero() {
			fmt.Fprintf(out, "Ended %s\n", res.EndedAt.Format(time.RFC3339))
		}
		if len(res.Standings) == 0 {
			fmt.Fprintln(out, "No answers yet.")
			return nil
		}
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tPLAYER\tSCORE")
		for _, e := range res.Standings {
			fmt.Fprintf(tw, "%d\t%s\t%d\n", e.Rank, valueOrDefault(e.Nickname, e.PlayerID), e.Score)
		}
		return tw.Flush()
	},
}
