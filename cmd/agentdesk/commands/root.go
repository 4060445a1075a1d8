// Package commands provides the CLI commands for agentdesk.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel string
	workDir  string
)

var rootCmd = &cobra.Command{
	Use:   "agentdesk",
	Short: "agentdesk - session manager for coding agents",
	Long: `agentdesk keeps long-running coding agent sessions organized: it tracks
each session's run status across worktrees, queues messages behind active
runs, and surfaces which sessions are waiting on you.

Run 'agentdesk serve' to start the session core with its local API.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentdesk %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// resolveWorkDir returns the working directory from the flag or cwd.
func resolveWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
