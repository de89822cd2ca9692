package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/conversation"
)

// DefaultModel is used when an agent names none.
const DefaultModel = "gpt-4o-mini"

// Config tunes an Orchestrator.
type Config struct {
	// MemoryWindow caps replayed turns. Zero uses conversation.DefaultWindow.
	MemoryWindow int

	// DefaultModel is used for agents without a model.
	DefaultModel string
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	agents    AgentSource
	memory    Memory
	completer Completer
	gateway   ToolGateway
	catalog   *catalog.Catalog
	cfg       Config
}

// New creates an orchestrator.
func New(agents AgentSource, memory Memory, completer Completer, gateway ToolGateway, cat *catalog.Catalog, cfg Config) *Orchestrator {
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = conversation.DefaultWindow
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	return &Orchestrator{
		agents:    agents,
		memory:    memory,
		completer: completer,
		gateway:   gateway,
		catalog:   cat,
		cfg:       cfg,
	}
}

// Request is one inbound user message.
type Request struct {
	AgentID     string `json:"agent_id"`
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

// Invocation records one tool call made during a turn.
type Invocation struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

// Reply is the outcome of a chat turn.
type Reply struct {
	Reply     string       `json:"reply"`
	ToolCalls []Invocation `json:"tool_calls,omitempty"`
}

// Chat runs one turn. Errors reaching the completion service or the gateway
// fail the turn and nothing is persisted; a failing individual tool call is
// reported to the model as "Error: <message>".
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Reply, error) {
	ag, err := o.agents.Get(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("loading agent: %w", err)
	}
	if !ag.IsActive {
		return nil, ErrAgentInactive
	}
	if !ag.MCPEnabled {
		return nil, ErrMCPDisabled
	}

	history, err := o.memory.Recent(ctx, ag.ID, req.PhoneNumber, o.cfg.MemoryWindow)
	if err != nil {
		return nil, fmt.Errorf("loading memory: %w", err)
	}

	sessions, specs, err := o.openTools(ctx, ag, req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	defer sessions.close()

	model := ag.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}
	messages := buildMessages(ag, history, req.Message)

	first, err := o.completer.Complete(ctx, CompletionRequest{Model: model, Messages: messages, Tools: specs})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	reply := &Reply{Reply: first.Content}
	if len(first.ToolCalls) > 0 {
		messages = append(messages, Message{Role: RoleAssistant, Content: first.Content, ToolCalls: first.ToolCalls})
		for _, call := range first.ToolCalls {
			inv := sessions.call(ctx, ag.ID, call)
			reply.ToolCalls = append(reply.ToolCalls, inv)
			messages = append(messages, Message{Role: RoleTool, ToolCallID: call.ID, Content: inv.Result})
		}

		second, err := o.completer.Complete(ctx, CompletionRequest{Model: model, Messages: messages})
		if err != nil {
			return nil, fmt.Errorf("completion after tool calls: %w", err)
		}
		reply.Reply = second.Content
	}

	if _, err := o.memory.Append(ctx, ag.ID, req.PhoneNumber, conversation.RoleUser, req.Message); err != nil {
		return nil, fmt.Errorf("saving user turn: %w", err)
	}
	if _, err := o.memory.Append(ctx, ag.ID, req.PhoneNumber, conversation.RoleAssistant, reply.Reply); err != nil {
		return nil, fmt.Errorf("saving reply: %w", err)
	}

	slog.Info("chat turn completed",
		"agent_id", ag.ID,
		"history", len(history),
		"tools_offered", len(specs),
		"tool_calls", len(reply.ToolCalls),
	)
	return reply, nil
}

func buildMessages(ag *agent.Agent, history []conversation.Turn, message string) []Message {
	messages := make([]Message, 0, len(history)+2)
	if ag.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: ag.SystemPrompt})
	}
	for _, t := range history {
		role := RoleUser
		if t.Role == conversation.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: t.Message})
	}
	return append(messages, Message{Role: RoleUser, Content: message})
}

// toolSessions holds one open gateway session per server used in a turn.
type toolSessions struct {
	byServer map[string]ToolSession
	owner    map[string]string // tool name -> server
}

func (s *toolSessions) close() {
	for name, sess := range s.byServer {
		if err := sess.Close(); err != nil {
			slog.Debug("closing gateway session", "server", name, "error", err)
		}
	}
}

// openTools opens a session on every server covered by the agent's modules
// and returns the tools the agent may use, in name order.
func (o *Orchestrator) openTools(ctx context.Context, ag *agent.Agent, userContext string) (*toolSessions, []ToolSpec, error) {
	allowed, unknown := o.catalog.ResolveModules(ag.Modules)
	if len(unknown) > 0 {
		slog.Warn("agent lists unknown modules", "agent_id", ag.ID, "modules", unknown)
	}

	servers := make(map[string]bool)
	for _, server := range allowed {
		servers[server] = true
	}

	ts := &toolSessions{byServer: make(map[string]ToolSession), owner: make(map[string]string)}
	var specs []ToolSpec
	for _, server := range sortedKeys(servers) {
		sess, err := o.gateway.Open(ctx, server, userContext)
		if err != nil {
			ts.close()
			return nil, nil, fmt.Errorf("connecting to %s: %w", server, err)
		}
		ts.byServer[server] = sess

		listed, err := sess.ListTools(ctx)
		if err != nil {
			ts.close()
			return nil, nil, fmt.Errorf("listing tools on %s: %w", server, err)
		}
		for _, spec := range listed {
			if allowed[spec.Name] != server {
				continue
			}
			ts.owner[spec.Name] = server
			specs = append(specs, spec)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return ts, specs, nil
}

// call runs one model-requested tool. Failures become in-band text.
func (s *toolSessions) call(ctx context.Context, agentID string, call ToolCall) Invocation {
	inv := Invocation{Tool: call.Name}
	server, ok := s.owner[call.Name]
	if !ok {
		inv.Result = fmt.Sprintf("Error: tool %s is not available to this agent", call.Name)
		return inv
	}
	inv.Server = server

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			inv.Result = "Error: invalid tool arguments: " + err.Error()
			return inv
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	args[catalog.AgentIDArg] = agentID

	text, err := s.byServer[server].CallTool(ctx, call.Name, args)
	if err != nil {
		slog.Warn("tool call failed", "agent_id", agentID, "tool", call.Name, "error", err)
		inv.Result = "Error: " + err.Error()
		return inv
	}
	inv.Result = text
	return inv
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsRejection reports whether err rejects the agent itself rather than
// reflecting a service failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrAgentInactive) || errors.Is(err, ErrMCPDisabled) || errors.Is(err, agent.ErrNotFound)
}
