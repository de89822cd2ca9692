package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Envelope is one decoded element of a request body. When the element could
// not be decoded into a valid request, Err is set and Request carries whatever
// id could be recovered so the error response can still be correlated.
type Envelope struct {
	Request *Request
	Err     *Error
}

// Batch is the decoded form of a POST body.
type Batch struct {
	// Envelopes holds one entry per input message, in input order.
	Envelopes []Envelope

	// IsArray records whether the body was a JSON array.
	IsArray bool
}

// Decode parses a request body holding either one JSON-RPC message or an
// array of them. A body that is not valid JSON yields a single parse error
// envelope; an empty array yields a single invalid request envelope.
func Decode(body []byte) Batch {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return single(Envelope{Err: NewError(CodeInvalidRequest, "empty request body")})
	}

	if trimmed[0] != '[' {
		var raw json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return single(Envelope{Err: Errorf(CodeParseError, "parse error: %v", err)})
		}
		return single(decodeOne(raw))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return single(Envelope{Err: Errorf(CodeParseError, "parse error: %v", err)})
	}
	if len(items) == 0 {
		return single(Envelope{Err: NewError(CodeInvalidRequest, "empty batch")})
	}

	batch := Batch{Envelopes: make([]Envelope, 0, len(items)), IsArray: true}
	for _, item := range items {
		batch.Envelopes = append(batch.Envelopes, decodeOne(item))
	}
	return batch
}

func single(env Envelope) Batch {
	return Batch{Envelopes: []Envelope{env}}
}

// decodeOne decodes a single message object.
func decodeOne(raw json.RawMessage) Envelope {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{Err: NewError(CodeInvalidRequest, "message must be a JSON object")}
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Envelope{Request: recoverID(trimmed), Err: Errorf(CodeInvalidRequest, "invalid request: %v", err)}
	}
	if verr := req.Validate(); verr != nil {
		return Envelope{Request: &req, Err: verr}
	}
	return Envelope{Request: &req}
}

// recoverID makes a best-effort attempt to read just the id of a message
// whose other fields failed to decode.
func recoverID(raw json.RawMessage) *Request {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || !validID(probe.ID) {
		return nil
	}
	return &Request{JSONRPC: Version, ID: probe.ID}
}

// ID returns the id to echo for this envelope, or nil (JSON null) when unknown.
func (e Envelope) ID() json.RawMessage {
	if e.Request == nil {
		return nil
	}
	return e.Request.ID
}

// ExpectsResponse reports whether a response must be produced for this envelope.
// Invalid messages always get a response; valid notifications never do.
func (e Envelope) ExpectsResponse() bool {
	if e.Err != nil {
		return true
	}
	return !e.Request.IsNotification()
}
