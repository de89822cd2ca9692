// Package catalog holds the static tool, resource and prompt descriptors for
// each logical MCP server exposed by the gateway.
//
// Descriptors are immutable after construction. Every tool is bound to the
// entity and action it performs, so handler registration is driven entirely
// by this data.
package catalog

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

// Action is the kind of operation a tool performs.
type Action string

const (
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionLookup Action = "lookup"
)

// AgentIDArg is the argument every tools/call must carry.
const AgentIDArg = "agent_id"

// Default paging for get_* tools.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Tool is a tool descriptor as returned by tools/list.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`

	// Action and Entity bind the descriptor to its handler.
	Action Action  `json:"-"`
	Entity *Entity `json:"-"`
}

// InputSchema is the JSON Schema object describing tool arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one JSON Schema property.
type Property struct {
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Field is a writable entity column.
type Field struct {
	Name        string
	Type        string // JSON Schema type: string, number, integer, boolean, array, object
	Description string
	Enum        []string
}

// Entity describes one CRM table reachable through tools.
type Entity struct {
	Singular string // "contact"
	Plural   string // "contacts"
	Table    string
	IDColumn string
	IDPrefix string

	Fields     []Field
	Required   []string
	Filterable []string
	Searchable []string
	Defaults   map[string]any

	// ActiveFilters select rows for the <domain>://active resource.
	ActiveFilters []store.Filter

	// Statistics dimensions for the <domain>://statistics resource.
	StatusColumn   string
	TypeColumn     string
	PresenceFields []string

	Expand *store.Expand

	// Order overrides the default newest-first ordering.
	Order []store.Order
}

// Field returns the named field.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DefaultOrder is the ordering used by get_* tools and resource dumps.
func (e *Entity) DefaultOrder() []store.Order {
	if len(e.Order) > 0 {
		return e.Order
	}
	return []store.Order{{Column: "created_at", Desc: true}}
}

// ResourceView is what a resource URI resolves to.
type ResourceView string

const (
	ViewAll        ResourceView = "all"
	ViewActive     ResourceView = "active"
	ViewRecent     ResourceView = "recent"
	ViewStatistics ResourceView = "statistics"
)

// RecentWindow bounds the <domain>://recent resource.
const RecentWindow = 7 * 24 * time.Hour

// Resource is a resource descriptor as returned by resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MIMEType    string `json:"mimeType"`
}

// Prompt is a prompt descriptor as returned by prompts/list.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one prompt argument.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Server is one logical MCP server: a domain with its own permission toggle.
type Server struct {
	Name    string // permission key, e.g. "tasks-server"
	Domain  string // module name and resource URI scheme, e.g. "tasks"
	Title   string
	Version string

	// Primary is the entity behind the server's resources.
	Primary   *Entity
	Entities  []*Entity
	Tools     []Tool
	Resources []Resource
	Prompts   []Prompt
}

// Tool returns the named tool descriptor.
func (s *Server) Tool(name string) (Tool, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// ToolNames returns the names of all tools on the server, in catalog order.
func (s *Server) ToolNames() []string {
	names := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		names[i] = t.Name
	}
	return names
}

// ResourceTemplate is the URI template matching this server's resources.
func (s *Server) ResourceTemplate() string {
	return s.Domain + "://{view}"
}

// Catalog indexes servers by name.
type Catalog struct {
	servers map[string]*Server
	order   []string
}

// New builds a catalog from servers, rejecting duplicate server or tool names.
func New(servers ...*Server) (*Catalog, error) {
	c := &Catalog{servers: make(map[string]*Server, len(servers))}
	toolOwner := make(map[string]string)
	for _, s := range servers {
		if _, dup := c.servers[s.Name]; dup {
			return nil, fmt.Errorf("duplicate server %q", s.Name)
		}
		for _, t := range s.Tools {
			if owner, dup := toolOwner[t.Name]; dup {
				return nil, fmt.Errorf("tool %q declared by both %s and %s", t.Name, owner, s.Name)
			}
			toolOwner[t.Name] = s.Name
		}
		c.servers[s.Name] = s
		c.order = append(c.order, s.Name)
	}
	return c, nil
}

// Server returns the named server.
func (c *Catalog) Server(name string) (*Server, bool) {
	s, ok := c.servers[name]
	return s, ok
}

// Servers returns all servers in registration order.
func (c *Catalog) Servers() []*Server {
	out := make([]*Server, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.servers[n])
	}
	return out
}

// Subset returns a catalog holding only the named servers. Unknown names are an error.
func (c *Catalog) Subset(names []string) (*Catalog, error) {
	servers := make([]*Server, 0, len(names))
	for _, n := range names {
		s, ok := c.servers[n]
		if !ok {
			return nil, fmt.Errorf("unknown server %q", n)
		}
		servers = append(servers, s)
	}
	return New(servers...)
}

// ListTools returns the tool descriptors of a server, or nil for an unknown server.
func (c *Catalog) ListTools(serverName string) []Tool {
	s, ok := c.servers[serverName]
	if !ok {
		return nil
	}
	return slices.Clone(s.Tools)
}

// ServerForModule resolves a module name ("leads" or "leads-server") to its server.
func (c *Catalog) ServerForModule(module string) (*Server, bool) {
	m := strings.ToLower(strings.TrimSpace(module))
	if s, ok := c.servers[m]; ok {
		return s, true
	}
	for _, s := range c.servers {
		if s.Domain == m {
			return s, true
		}
	}
	return nil, false
}

// ResolveModules maps an agent's module allow-list to the exact set of tool
// names it covers, keyed by tool name with the owning server as value.
// Unknown modules are returned separately so callers can log them.
func (c *Catalog) ResolveModules(modules []string) (tools map[string]string, unknown []string) {
	tools = make(map[string]string)
	for _, m := range modules {
		s, ok := c.ServerForModule(m)
		if !ok {
			unknown = append(unknown, m)
			continue
		}
		for _, t := range s.Tools {
			tools[t.Name] = s.Name
		}
	}
	return tools, unknown
}
