// Package tools executes catalog tools and resources against the entity
// store and shapes their outcomes into MCP content.
package tools

import (
	"encoding/json"
)

// Result is the payload every tool returns inside its text content block.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK is a successful result carrying data.
func OK(data any, message string) Result {
	return Result{Success: true, Data: data, Message: message}
}

// Rows is a successful result carrying rows and their count.
func Rows[T any](rows []T) Result {
	n := len(rows)
	if rows == nil {
		rows = []T{}
	}
	return Result{Success: true, Data: rows, Count: &n}
}

// Fail is an unsuccessful result.
func Fail(msg string) Result {
	return Result{Success: false, Error: msg}
}

// ContentBlock is one MCP content item.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the result of tools/call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
}

// CallResult wraps r as a single JSON text block.
func (r Result) CallResult() CallResult {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(Fail("encoding result: " + err.Error()))
	}
	return CallResult{Content: []ContentBlock{{Type: "text", Text: string(b)}}}
}
