package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yosida95/uritemplate/v3"

	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

// ResourceContents is one entry of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ReadResult is the result of resources/read.
type ReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

// Statistics is the <domain>://statistics aggregate.
type Statistics struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status,omitempty"`
	ByType    map[string]int `json:"by_type,omitempty"`
	WithField map[string]int `json:"with_field,omitempty"`
}

// UnknownResourceError reports a URI the server does not serve.
type UnknownResourceError struct {
	URI string
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("unknown resource URI: %s", e.URI)
}

// parseView extracts the view from a URI matching the server's template.
func parseView(s *catalog.Server, uri string) (catalog.ResourceView, error) {
	tmpl, err := uritemplate.New(s.ResourceTemplate())
	if err != nil {
		return "", fmt.Errorf("invalid template %q: %w", s.ResourceTemplate(), err)
	}
	match := tmpl.Match(uri)
	if match == nil {
		return "", &UnknownResourceError{URI: uri}
	}
	view := catalog.ResourceView(match.Get("view").String())
	switch view {
	case catalog.ViewAll, catalog.ViewActive, catalog.ViewRecent, catalog.ViewStatistics:
		return view, nil
	}
	return "", &UnknownResourceError{URI: uri}
}

// ReadResource resolves uri against server's primary entity.
func (x *Executor) ReadResource(ctx context.Context, s *catalog.Server, uri string) (ReadResult, error) {
	view, err := parseView(s, uri)
	if err != nil {
		return ReadResult{}, err
	}
	e := s.Primary

	var payload any
	switch view {
	case catalog.ViewStatistics:
		rows, err := x.db.Query(ctx, store.Query{Table: e.Table})
		if err != nil {
			return ReadResult{}, fmt.Errorf("reading %s: %w", e.Plural, err)
		}
		payload = computeStatistics(e, rows)
	default:
		q := store.Query{Table: e.Table, OrderBy: e.DefaultOrder(), Expand: e.Expand}
		switch view {
		case catalog.ViewActive:
			q.Filters = e.ActiveFilters
		case catalog.ViewRecent:
			q.Filters = []store.Filter{{
				Column: "created_at",
				Op:     store.OpGte,
				Value:  x.now().Add(-catalog.RecentWindow),
			}}
		}
		rows, err := x.db.Query(ctx, q)
		if err != nil {
			return ReadResult{}, fmt.Errorf("reading %s: %w", e.Plural, err)
		}
		payload = Rows(rows)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return ReadResult{}, fmt.Errorf("encoding %s: %w", uri, err)
	}
	return ReadResult{Contents: []ResourceContents{{
		URI:      uri,
		MIMEType: "application/json",
		Text:     string(b),
	}}}, nil
}

func computeStatistics(e *catalog.Entity, rows []store.Row) Statistics {
	st := Statistics{Total: len(rows)}
	if e.StatusColumn != "" {
		st.ByStatus = make(map[string]int)
	}
	if e.TypeColumn != "" {
		st.ByType = make(map[string]int)
	}
	if len(e.PresenceFields) > 0 {
		st.WithField = make(map[string]int, len(e.PresenceFields))
		for _, f := range e.PresenceFields {
			st.WithField[f] = 0
		}
	}
	for _, r := range rows {
		if st.ByStatus != nil {
			st.ByStatus[bucket(r[e.StatusColumn])]++
		}
		if st.ByType != nil {
			st.ByType[bucket(r[e.TypeColumn])]++
		}
		for _, f := range e.PresenceFields {
			if present(r[f]) {
				st.WithField[f]++
			}
		}
	}
	return st
}

func bucket(v any) string {
	if v == nil || v == "" {
		return "unknown"
	}
	return fmt.Sprint(v)
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	}
	return true
}
