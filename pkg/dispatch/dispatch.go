// Package dispatch routes decoded JSON-RPC messages for one catalog server
// to their handlers. tools/call runs the agent check, permission check,
// execution and audit sequence.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/jsonrpc"
	"github.com/txn2/mcp-crm-gateway/pkg/permission"
	"github.com/txn2/mcp-crm-gateway/pkg/session"
	"github.com/txn2/mcp-crm-gateway/pkg/tools"
)

// Method names.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
)

// DefaultCallTimeout bounds a single tool execution.
const DefaultCallTimeout = 30 * time.Second

// AgentDirectory resolves agent ids.
type AgentDirectory interface {
	Get(ctx context.Context, id string) (*agent.Agent, error)
}

// Authorizer decides whether an agent may call a tool.
type Authorizer interface {
	Check(ctx context.Context, agentID, server, tool string) permission.Decision
}

// Executor runs tools and reads resources.
type Executor interface {
	Execute(ctx context.Context, tool catalog.Tool, args tools.Args) (tools.Result, error)
	ReadResource(ctx context.Context, s *catalog.Server, uri string) (tools.ReadResult, error)
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Sessions    *session.Manager
	Agents      AgentDirectory
	Permissions Authorizer
	Executor    Executor
	Audit       audit.Logger
}

// Config tunes a Dispatcher.
type Config struct {
	// CallTimeout bounds each tool execution. Zero uses DefaultCallTimeout.
	CallTimeout time.Duration

	// UserContext tags audit rows when the request carries none.
	UserContext string
}

// handlerFunc handles one method. A *jsonrpc.Error keeps its code; any
// other error becomes an internal error.
type handlerFunc func(ctx context.Context, c *call) (any, error)

// call carries the per-message state handed to a handler.
type call struct {
	sessionID string
	req       *jsonrpc.Request
}

// Dispatcher handles messages addressed to one catalog server.
type Dispatcher struct {
	server  *catalog.Server
	deps    Deps
	cfg     Config
	methods map[string]handlerFunc
}

// New creates a dispatcher for server.
func New(server *catalog.Server, deps Deps, cfg Config) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.UserContext == "" {
		cfg.UserContext = audit.DefaultUserContext
	}
	d := &Dispatcher{server: server, deps: deps, cfg: cfg}
	d.methods = map[string]handlerFunc{
		MethodInitialize:    d.initialize,
		MethodPing:          d.ping,
		MethodToolsList:     d.listTools,
		MethodToolsCall:     d.callTool,
		MethodResourcesList: d.listResources,
		MethodResourcesRead: d.readResource,
		MethodPromptsList:   d.listPrompts,
	}
	return d
}

// Server returns the catalog server this dispatcher serves.
func (d *Dispatcher) Server() *catalog.Server {
	return d.server
}

// Handle processes one envelope and returns its response, or nil when the
// envelope is a valid notification.
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, env jsonrpc.Envelope) (resp *jsonrpc.Response) {
	if env.Err != nil {
		return jsonrpc.NewErrorResponse(env.ID(), env.Err)
	}
	req := env.Request

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic handling request", "method", req.Method, "server", d.server.Name, "panic", r)
			resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.Errorf(jsonrpc.CodeInternalError, "internal error: %v", r))
			if req.IsNotification() {
				resp = nil
			}
		}
	}()

	result, err := d.dispatch(ctx, &call{sessionID: sessionID, req: req})
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
		}
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}
	return jsonrpc.NewResult(req.ID, result)
}

func (d *Dispatcher) dispatch(ctx context.Context, c *call) (any, error) {
	method := c.req.Method
	if c.req.IsNotification() && strings.HasPrefix(method, "notifications/") {
		slog.Debug("notification received", "method", method, "session_id", c.sessionID)
		return nil, nil //nolint:nilnil // notifications have no result
	}

	h, ok := d.methods[method]
	if !ok {
		return nil, jsonrpc.Errorf(jsonrpc.CodeMethodNotFound, "method not found: %s", method)
	}
	if method != MethodInitialize && method != MethodPing &&
		d.deps.Sessions.RequireInitialize() && !d.deps.Sessions.IsInitialized(ctx, c.sessionID) {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "session not initialized: call initialize first")
	}
	return h(ctx, c)
}

// decodeParams unmarshals params into v. Absent params leave v untouched.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

func (d *Dispatcher) initialize(ctx context.Context, c *call) (any, error) {
	var params session.InitializeParams
	// initialize never fails; malformed params fall back to defaults.
	_ = decodeParams(c.req.Params, &params)
	return d.deps.Sessions.Initialize(ctx, c.sessionID, params, session.Implementation{
		Name:    d.server.Name,
		Version: d.server.Version,
	}), nil
}

func (*Dispatcher) ping(context.Context, *call) (any, error) {
	return struct{}{}, nil
}

func (d *Dispatcher) listTools(context.Context, *call) (any, error) {
	return map[string]any{"tools": d.server.Tools}, nil
}

func (d *Dispatcher) listResources(context.Context, *call) (any, error) {
	return map[string]any{"resources": d.server.Resources}, nil
}

func (d *Dispatcher) listPrompts(context.Context, *call) (any, error) {
	prompts := d.server.Prompts
	if prompts == nil {
		prompts = []catalog.Prompt{}
	}
	return map[string]any{"prompts": prompts}, nil
}

func (d *Dispatcher) readResource(ctx context.Context, c *call) (any, error) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := decodeParams(c.req.Params, &params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "missing required parameter: uri")
	}

	res, err := d.deps.Executor.ReadResource(ctx, d.server, params.URI)
	var unknown *tools.UnknownResourceError
	if errors.As(err, &unknown) {
		return nil, jsonrpc.NewError(jsonrpc.CodeResourceNotFound, unknown.Error()).
			WithData(map[string]any{"uri": params.URI})
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", params.URI, err)
	}
	return res, nil
}
