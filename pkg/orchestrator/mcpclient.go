package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-crm-gateway/pkg/transport"
)

// MCPGatewayConfig configures the MCP gateway client.
type MCPGatewayConfig struct {
	// BaseURL is the gateway root, e.g. http://localhost:8080.
	BaseURL string

	// APIKey is sent as X-API-Key when set.
	APIKey string

	// Timeout bounds each HTTP request. Zero uses 60s.
	Timeout time.Duration

	// ClientVersion is reported in initialize.
	ClientVersion string
}

// MCPGateway opens streamable HTTP MCP sessions against the gateway.
type MCPGateway struct {
	cfg MCPGatewayConfig
}

// NewMCPGateway creates a gateway client.
func NewMCPGateway(cfg MCPGatewayConfig) *MCPGateway {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "dev"
	}
	return &MCPGateway{cfg: cfg}
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r) //nolint:wrapcheck // transport errors pass through unchanged
}

// Open connects to one catalog server and performs the MCP handshake.
func (g *MCPGateway) Open(ctx context.Context, server, userContext string) (ToolSession, error) {
	headers := map[string]string{}
	if userContext != "" {
		headers[transport.UserContextHeader] = userContext
	}
	if g.cfg.APIKey != "" {
		headers["X-API-Key"] = g.cfg.APIKey
	}
	httpClient := &http.Client{
		Timeout:   g.cfg.Timeout,
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "mcp-crm-orchestrator",
		Version: g.cfg.ClientVersion,
	}, nil)
	sess, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   g.cfg.BaseURL + "/mcp/" + server,
		HTTPClient: httpClient,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}
	return &mcpSession{sess: sess}, nil
}

type mcpSession struct {
	sess *mcp.ClientSession
}

func (s *mcpSession) ListTools(ctx context.Context) ([]ToolSpec, error) {
	res, err := s.sess.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	specs := make([]ToolSpec, 0, len(res.Tools))
	for _, t := range res.Tools {
		specs = append(specs, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaMap(t.InputSchema),
		})
	}
	return specs, nil
}

// schemaMap normalizes a decoded input schema to a plain JSON object.
func schemaMap(schema any) map[string]any {
	b, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	res, err := s.sess.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", name, err)
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (s *mcpSession) Close() error {
	return s.sess.Close() //nolint:wrapcheck // close errors are only logged
}
