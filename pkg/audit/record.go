package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of a tool invocation attempt.
type Result string

const (
	// ResultSuccess means the tool executed and returned data.
	ResultSuccess Result = "Success"

	// ResultError means the tool was permitted but execution failed.
	ResultError Result = "Error"

	// ResultDenied means the permission registry refused the call.
	ResultDenied Result = "Denied"
)

// Valid reports whether r is one of the three outcomes.
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultError, ResultDenied:
		return true
	}
	return false
}

// DefaultUserContext tags calls that arrive through the MCP endpoint.
const DefaultUserContext = "MCP Server"

// NewRecord creates a record for an attempt to run action on module.
func NewRecord(module, action string) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Module:      module,
		Action:      action,
		UserContext: DefaultUserContext,
		CreatedAt:   time.Now().UTC(),
	}
}

// WithAgent sets the calling agent.
func (r *Record) WithAgent(id, name string) *Record {
	r.AgentID = id
	r.AgentName = name
	return r
}

// WithUserContext sets the origin tag. Empty values are ignored.
func (r *Record) WithUserContext(uc string) *Record {
	if uc != "" {
		r.UserContext = uc
	}
	return r
}

// WithSession sets the MCP session id.
func (r *Record) WithSession(id string) *Record {
	r.SessionID = id
	return r
}

// WithDetails sets the structured detail payload with sensitive keys redacted.
func (r *Record) WithDetails(details map[string]any) *Record {
	r.Details = SanitizeDetails(details)
	return r
}

// WithResult sets the outcome.
func (r *Record) WithResult(result Result, errorMsg string, durationMS int64) *Record {
	r.Result = result
	r.ErrorMessage = errorMsg
	r.DurationMS = durationMS
	return r
}

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"credentials":   true,
}

// SanitizeDetails returns a copy of details with sensitive keys redacted at
// any depth.
func SanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if sensitiveKeys[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return SanitizeDetails(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}
