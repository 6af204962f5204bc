package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateRate     string
	simulatePrevious string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic new-high alert through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := decimal.NewFromString(simulateRate)
		if err != nil {
			return errors.New("--rate must be a decimal number")
		}
		previous, err := decimal.NewFromString(simulatePrevious)
		if err != nil {
			return errors.New("--previous must be a decimal number")
		}
		if !rate.IsPositive() || !previous.IsPositive() {
			return errors.New("--rate and --previous must be greater than 0")
		}

		return getApp().SimulateAlert(cmd.Context(), rate, previous)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRate, "rate", "", "Current rate to report")
	simulateCmd.Flags().StringVar(&simulatePrevious, "previous", "", "Previous window high to report")
	_ = simulateCmd.MarkFlagRequired("rate")
	_ = simulateCmd.MarkFlagRequired("previous")
}
