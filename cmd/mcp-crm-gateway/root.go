package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	mcpserver "github.com/txn2/mcp-crm-gateway/internal/server"
	"github.com/txn2/mcp-crm-gateway/pkg/gateway"
)

type rootOptions struct {
	configPath string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "mcp-crm-gateway",
		Short:         "MCP tool gateway for the CRM",
		Long:          "mcp-crm-gateway exposes CRM modules as MCP servers over streamable HTTP, enforces per-agent tool permissions and audits every tool call.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "Log format: json or text")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newChatCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads --config, or returns defaults when it is unset.
func (o *rootOptions) loadConfig() (*gateway.Config, error) {
	if o.configPath == "" {
		return gateway.DefaultConfig(), nil
	}
	cfg, err := gateway.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mcp-crm-gateway version %s\n", mcpserver.Version)
			return err //nolint:wrapcheck // write to stdout
		},
	}
}
