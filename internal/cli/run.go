package cli

import (
	"github.com/spf13/cobra"
)

var runNoAPI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the rate provider, prune old samples and serve the read API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runNoAPI {
			a.Config.API.Enabled = false
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "Do not start the HTTP read API")
}
