package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/jsonrpc"
	"github.com/txn2/mcp-crm-gateway/pkg/tools"
)

type userContextKey struct{}

// WithUserContext attaches the origin tag recorded in audit rows.
func WithUserContext(ctx context.Context, uc string) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// UserContextFrom returns the origin tag attached to ctx, if any.
func UserContextFrom(ctx context.Context) string {
	uc, _ := ctx.Value(userContextKey{}).(string)
	return uc
}

type callParams struct {
	Name      string     `json:"name"`
	Arguments tools.Args `json:"arguments"`
}

// callTool runs the tools/call sequence. Missing agent_id and unknown agents
// are protocol errors and are not audited. Every call past the agent lookup
// writes exactly one audit record: Denied, Error or Success.
func (d *Dispatcher) callTool(ctx context.Context, c *call) (any, error) {
	var params callParams
	if err := decodeParams(c.req.Params, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "missing required parameter: name")
	}

	agentID := params.Arguments.AgentID()
	if agentID == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "missing required argument: agent_id")
	}

	ag, err := d.deps.Agents.Get(ctx, agentID)
	if errors.Is(err, agent.ErrNotFound) {
		return nil, jsonrpc.Errorf(jsonrpc.CodeAgentNotFound, "agent not found: %s", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up agent: %w", err)
	}
	agentName := ag.Name
	if agentName == "" {
		agentName = ag.ID
	}

	start := time.Now()
	uc := UserContextFrom(ctx)
	if uc == "" {
		uc = d.cfg.UserContext
	}
	rec := audit.NewRecord(d.server.Name, params.Name).
		WithAgent(agentID, agentName).
		WithUserContext(uc).
		WithSession(c.sessionID)

	details := map[string]any{"arguments": withoutAgentID(params.Arguments)}

	if decision := d.deps.Permissions.Check(ctx, agentID, d.server.Name, params.Name); !decision.Allowed {
		d.finish(ctx, rec, details, audit.ResultDenied, decision.Reason, start)
		return tools.Fail(decision.Reason).CallResult(), nil
	}

	result, err := d.execute(ctx, params)
	if err != nil {
		d.finish(ctx, rec, details, audit.ResultError, err.Error(), start)
		return tools.Fail(err.Error()).CallResult(), nil
	}

	if result.Count != nil {
		details["count"] = *result.Count
	}
	d.finish(ctx, rec, details, audit.ResultSuccess, "", start)
	return result.CallResult(), nil
}

// execute runs the tool detached from request cancellation but bounded by
// the call timeout. A panic is reported as an execution error.
func (d *Dispatcher) execute(ctx context.Context, params callParams) (res tools.Result, err error) {
	tool, ok := d.server.Tool(params.Name)
	if !ok {
		return tools.Result{}, fmt.Errorf("unknown tool %s on %s", params.Name, d.server.Name)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CallTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic executing tool", "tool", params.Name, "server", d.server.Name, "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return d.deps.Executor.Execute(ctx, tool, params.Arguments)
}

func (d *Dispatcher) finish(ctx context.Context, rec *audit.Record, details map[string]any, result audit.Result, msg string, start time.Time) {
	duration := time.Since(start).Milliseconds()
	rec.WithDetails(details).WithResult(result, msg, duration)

	slog.Debug("tools/call finished",
		"agent_id", rec.AgentID,
		"server", rec.Module,
		"tool", rec.Action,
		"result", result,
		"duration_ms", duration,
	)

	if err := d.deps.Audit.Log(context.WithoutCancel(ctx), *rec); err != nil {
		slog.Warn("audit log failed", "agent_id", rec.AgentID, "tool", rec.Action, "error", err)
	}
}

func withoutAgentID(args tools.Args) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k != catalog.AgentIDArg {
			out[k] = v
		}
	}
	return out
}
