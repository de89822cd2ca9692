// Package orchestrator drives one chat turn for an agent: it replays recent
// conversation memory, offers the agent's permitted CRM tools to a
// chat-completion model, runs the tool calls the model requests through the
// MCP gateway, and persists the exchange.
package orchestrator

import (
	"context"
	"errors"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/conversation"
)

// Sentinel errors returned before the gateway is contacted.
var (
	ErrAgentInactive = errors.New("agent is inactive")
	ErrMCPDisabled   = errors.New("MCP tools are disabled for this agent")
)

// Message roles understood by completers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a completion request.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolSpec declares a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a function invocation requested by the model. Arguments is
// the raw JSON object the model produced.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// CompletionRequest is one call to the completion service.
type CompletionRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolSpec
}

// Completion is the model's answer: either content, tool calls, or both.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Completer is the external chat-completion service.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// ToolSession is an open connection to one catalog server on the gateway.
type ToolSession interface {
	ListTools(ctx context.Context) ([]ToolSpec, error)
	// CallTool returns the text content of the tool result.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// ToolGateway opens sessions against catalog servers. userContext tags the
// audit rows written for calls made through the session.
type ToolGateway interface {
	Open(ctx context.Context, server, userContext string) (ToolSession, error)
}

// AgentSource resolves agents.
type AgentSource interface {
	Get(ctx context.Context, id string) (*agent.Agent, error)
}

// Memory stores conversation turns.
type Memory interface {
	Recent(ctx context.Context, agentID, phone string, limit int) ([]conversation.Turn, error)
	Append(ctx context.Context, agentID, phone string, role conversation.Role, message string) (conversation.Turn, error)
}
