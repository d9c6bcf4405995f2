// Package cmd provides the CLI commands for llmdoc.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/llmdocs/llmdoc/internal/logging"
	"github.com/llmdocs/llmdoc/pkg/version"
)

var debugMode bool

// NewRootCmd creates the root command for the llmdoc CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llmdoc",
		Short: "Documentation search MCP server for llms.txt sources",
		Long: `llmdoc indexes documentation from llms.txt sources and serves it to AI
assistants over the Model Context Protocol.

It fetches configured documentation catalogs, normalizes everything to
markdown, and answers search queries with BM25 ranking backed by a local
SQLite full-text index. The index refreshes on a TTL in the background.

Running 'llmdoc' with no arguments starts the stdio server.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("llmdoc version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		cfg := logging.DefaultConfig()
		if debugMode {
			cfg.Level = "debug"
		}
		logging.SetupDefault(cfg)
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
