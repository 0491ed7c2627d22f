// Package app provides the entry point for the credentis command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/credentis/credentis/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "credentis",
	DisableAutoGenTag: true,
	Short:             "credentis is the credential-issuance core of an identity check service",
	Long: `credentis turns a signed and encrypted authorization request into a session,
a session into a one-time authorization code, and a code into a bearer access
token, verifying every externally supplied JWT and JWE against per-client
cryptographic material.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the credentis CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)

	return rootCmd
}
