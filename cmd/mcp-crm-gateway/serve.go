package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/txn2/mcp-crm-gateway/internal/server"
	"github.com/txn2/mcp-crm-gateway/pkg/gateway"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP gateway",
		Long: `Start the MCP gateway HTTP server.

Each enabled CRM module is served at /mcp/<module>-server. Health probes are
at /healthz and /readyz, the admin API under /api/v1/admin, and the agent chat
endpoint at /api/v1/chat when a completion provider is configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			logger, err := newLogger(os.Stderr, root.logFormat, cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			g, err := gateway.New(cmd.Context(), cfg)
			if err != nil {
				return err //nolint:wrapcheck // gateway errors carry context
			}
			defer func() {
				if err := g.Close(); err != nil {
					slog.Warn("closing gateway", "error", err)
				}
			}()

			return mcpserver.Run(cmd.Context(), mcpserver.Config{ //nolint:wrapcheck // server errors carry context
				Address:         cfg.Server.Address,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, g.Handler(), g.Health())
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Listen address (overrides server.address)")
	return cmd
}
