// Package cmd provides the CLI commands for searchd.
package cmd

import (
	"github.com/spf13/cobra"

	"searchd/pkg/version"
)

var (
	configPath string
	logLevel   string
)

// NewRootCmd creates the root command for the searchd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searchd",
		Short: "HTTP control plane for named full-text search indices",
		Long: `searchd serves a small HTTP API over a set of independent, named
full-text search indices: create, drop and query indices by name, or
query the reserved _all scope to search every open index at once.

Registered index locations are persisted, so the registry is rebuilt
automatically after a restart.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("searchd version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
