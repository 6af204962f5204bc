package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single fetch, detect and store cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Check(cmd.Context())
		if err != nil {
			return err
		}
		if res.ObservedAt.IsZero() {
			fmt.Fprintln(cmd.OutOrStdout(), "check skipped: another instance holds the lock")
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rate: %s\n", res.Rate)
		switch {
		case res.Baseline:
			fmt.Fprintln(out, "window empty, baseline recorded")
		case res.NewHigh:
			fmt.Fprintf(out, "new %d-day high (previous %s), notified: %t\n", res.EffectiveDays, res.PriorMax, res.Notified)
		default:
			fmt.Fprintf(out, "window high: %s\n", res.PriorMax)
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete samples older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, err := getApp().Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d samples\n", deleted)
		return nil
	},
}
