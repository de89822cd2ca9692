package tools

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
)

// Args are decoded tools/call arguments.
type Args map[string]any

// AgentID returns the agent_id argument, or "" when absent or not a string.
func (a Args) AgentID() string {
	s, _ := a[catalog.AgentIDArg].(string)
	return strings.TrimSpace(s)
}

// requiredString returns a non-empty string argument.
func (a Args) requiredString(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument: %s", name)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %s must be a non-empty string", name)
	}
	return s, nil
}

// int reads an integer argument, accepting JSON numbers and numeric strings.
func (a Args) int(name string, def int) (int, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument %s must be an integer", name)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("argument %s must be an integer", name)
		}
		return i, nil
	}
	return 0, fmt.Errorf("argument %s must be an integer", name)
}

// fields extracts values for the entity's writable fields. Keys absent from
// the arguments are skipped; explicit nulls are kept so they clear columns.
func (a Args) fields(e *catalog.Entity) (map[string]any, error) {
	out := make(map[string]any)
	for _, f := range e.Fields {
		v, ok := a[f.Name]
		if !ok {
			continue
		}
		if err := checkField(f, v); err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func checkField(f catalog.Field, v any) error {
	if v == nil {
		return nil
	}
	var ok bool
	switch f.Type {
	case "string":
		_, ok = v.(string)
	case "number":
		_, ok = asFloat(v)
	case "integer":
		n, isNum := asFloat(v)
		ok = isNum && n == math.Trunc(n)
	case "boolean":
		_, ok = v.(bool)
	case "array":
		switch v.(type) {
		case []any, []string:
			ok = true
		}
	case "object":
		_, ok = v.(map[string]any)
	default:
		ok = true
	}
	if !ok {
		return fmt.Errorf("field %s must be of type %s", f.Name, f.Type)
	}
	if s, isStr := v.(string); isStr && len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
		return fmt.Errorf("invalid %s %q: must be one of %s", f.Name, s, strings.Join(f.Enum, ", "))
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
