package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llmdocs/llmdoc/internal/app"
	"github.com/llmdocs/llmdoc/internal/config"
	"github.com/llmdocs/llmdoc/internal/mcp"
	"github.com/llmdocs/llmdoc/internal/refresh"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the MCP server, speaking line-delimited JSON-RPC over stdio.

On startup the server refreshes any stale sources (unless disabled via
LLMDOC_SKIP_STARTUP_REFRESH) and then refreshes periodically on the
configured interval.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe initializes the application and serves MCP over stdio until
// interrupted.
func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger := slog.Default()
	if len(cfg.Sources) == 0 {
		logger.Warn("no documentation sources configured; set LLMDOC_SOURCES or create llmdoc.json")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close()

	coordinator := refresh.New(a, logger)

	needed, err := coordinator.StartupNeeded()
	if err != nil {
		logger.Error("staleness check failed", "error", err)
	} else if needed {
		logger.Info("triggering startup refresh")
		if _, err := coordinator.Refresh(ctx); err != nil {
			logger.Error("startup refresh failed", "error", err)
		}
	} else {
		logger.Info("all sources with data are fresh, skipping startup refresh")
	}

	go coordinator.RunPeriodic(ctx)

	server := mcp.NewServer(a, coordinator, logger)
	return server.Serve(ctx)
}
