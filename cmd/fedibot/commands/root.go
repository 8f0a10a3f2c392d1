// Package commands implements the fedibot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the CLI root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fedibot",
		Short: "fedibot - mention-driven AI assistant for the fediverse",
		Long: `fedibot watches a fediverse account for mentions and answers them
with a generative model, keeping per-thread conversation context so a
reply to the bot's reply continues the same conversation.

Examples:
  fedibot serve
  fedibot setup
  fedibot allow 9a1b2c3d4e
  fedibot vault set ai_api_key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newAllowCmd(),
		newVaultCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
