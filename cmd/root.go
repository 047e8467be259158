package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "renamer",
		Short: "AI-powered batch image renaming service",
		Long: `Renamer describes uploaded images with a vision LLM and suggests
filesystem-safe names for them.

Each upload batch becomes a session that moves through analyze, rename and
download; the result is a single ZIP archive of the renamed files.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	// Add subcommands
	cmd.AddCommand(newServeCmd())

	return cmd
}
