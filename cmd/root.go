package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ticketing",
	Short: "Ticketing service for ticket sales and venue entry verification",
	Long: `A service that sells finite-quantity event tickets, verifies
entry scans from venue scanner devices, and surfaces check-in analytics
and fraud alerts.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
}
