package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"

	mcpserver "github.com/txn2/mcp-crm-gateway/internal/server"
	"github.com/txn2/mcp-crm-gateway/pkg/gateway"
	"github.com/txn2/mcp-crm-gateway/pkg/orchestrator"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	var agentID, phone string
	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Run one agent chat turn against an in-process gateway",
		Long: `Run one agent chat turn.

The gateway is started on a loopback port for the duration of the command and
the agent reaches its tools through the same MCP endpoints a remote
orchestrator would use.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.CompletionEnabled() {
				return errors.New("no completion provider configured: set completion.api_key")
			}
			logger, err := newLogger(os.Stderr, root.logFormat, "warn")
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			reply, err := runChat(cmd.Context(), cfg, orchestrator.Request{
				AgentID:     agentID,
				PhoneNumber: phone,
				Message:     strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			for _, inv := range reply.ToolCalls {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s/%s]\n", inv.Server, inv.Tool)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), reply.Reply)
			return err //nolint:wrapcheck // write to stdout
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent ID")
	cmd.Flags().StringVar(&phone, "phone", "cli", "Conversation key (phone number)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

// runChat serves the gateway on a loopback listener, runs one turn and
// shuts the listener down.
func runChat(ctx context.Context, cfg *gateway.Config, req orchestrator.Request, opts ...gateway.Option) (*orchestrator.Reply, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening on loopback: %w", err)
	}
	cfg.Orchestrator.GatewayURL = "http://" + ln.Addr().String()

	g, err := gateway.New(ctx, cfg, opts...)
	if err != nil {
		_ = ln.Close()
		return nil, err //nolint:wrapcheck // gateway errors carry context
	}
	defer func() { _ = g.Close() }()
	if g.Chat() == nil {
		_ = ln.Close()
		return nil, errors.New("chat is not available with this configuration")
	}

	serveCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- mcpserver.Serve(serveCtx, ln, cfg.Server.ShutdownTimeout, g.Handler(), g.Health())
	}()

	reply, chatErr := g.Chat().Chat(ctx, req)
	stop()
	if err := <-done; err != nil {
		slog.Warn("loopback gateway shutdown", "error", err)
	}
	if chatErr != nil {
		return nil, fmt.Errorf("chat: %w", chatErr)
	}
	return reply, nil
}
