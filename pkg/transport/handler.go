// Package transport serves catalog servers over HTTP: JSON-RPC over POST
// with buffered JSON or server-sent-event responses, a GET heartbeat
// stream, and DELETE session termination.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/txn2/mcp-crm-gateway/pkg/dispatch"
	"github.com/txn2/mcp-crm-gateway/pkg/jsonrpc"
	"github.com/txn2/mcp-crm-gateway/pkg/session"
)

const (
	// UserContextHeader carries the origin tag recorded in audit rows.
	UserContextHeader = "X-User-Context"

	// DefaultHeartbeatInterval spaces heartbeat comments on the GET stream.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultMaxBodyBytes caps a POST body.
	DefaultMaxBodyBytes = 4 << 20

	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
)

// Config tunes a Handler.
type Config struct {
	// HeartbeatInterval spaces heartbeats on GET streams. Zero uses the default.
	HeartbeatInterval time.Duration

	// RateLimit is the sustained requests per second allowed per session.
	// Zero disables limiting.
	RateLimit float64

	// RateBurst is the burst allowed per session. Defaults to RateLimit rounded up.
	RateBurst int

	// MaxBodyBytes caps a POST body. Zero uses the default.
	MaxBodyBytes int64
}

// Dispatcher handles one decoded message.
type Dispatcher interface {
	Handle(ctx context.Context, sessionID string, env jsonrpc.Envelope) *jsonrpc.Response
}

// Handler serves one catalog server at one path.
type Handler struct {
	dispatcher Dispatcher
	sessions   *session.Manager
	limiter    *sessionLimiter
	cfg        Config
}

// NewHandler creates a handler for d.
func NewHandler(d Dispatcher, sessions *session.Manager, cfg Config) *Handler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &Handler{dispatcher: d, sessions: sessions, cfg: cfg}
	if cfg.RateLimit > 0 {
		h.limiter = newSessionLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return h
}

// Mount registers one handler per dispatcher at /mcp/{server}.
func Mount(mux *http.ServeMux, dispatchers []*dispatch.Dispatcher, sessions *session.Manager, cfg Config) {
	for _, d := range dispatchers {
		path := "/mcp/" + d.Server().Name
		mux.Handle(path, NewHandler(d, sessions, cfg))
		slog.Debug("mcp endpoint mounted", "path", path)
	}
}

// ServeHTTP dispatches by HTTP method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodDelete {
		h.handleDelete(w, r)
		return
	}

	sessionID := h.sessions.CreateOrResume(r.Context(), r.Header.Get(session.HeaderName))
	w.Header().Set(session.HeaderName, sessionID)

	switch r.Method {
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodPost:
		if h.limiter != nil && !h.limiter.allow(sessionID) {
			slog.Warn("session rate limited", "session_id", sessionID)
			writeError(w, http.StatusTooManyRequests, jsonrpc.NewError(jsonrpc.CodeRateLimited, "rate limit exceeded"))
			return
		}
		h.handlePost(w, r, sessionID)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS, DELETE")
		writeError(w, http.StatusMethodNotAllowed,
			jsonrpc.Errorf(jsonrpc.CodeInvalidRequest, "method not allowed: %s", r.Method))
	}
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
	h.Set("Access-Control-Allow-Headers",
		"Content-Type, Accept, Authorization, X-API-Key, "+session.HeaderName+", Mcp-Protocol-Version, "+UserContextHeader)
	h.Set("Access-Control-Expose-Headers", session.HeaderName)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(session.HeaderName)
	if id == "" {
		writeError(w, http.StatusBadRequest,
			jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "missing "+session.HeaderName+" header"))
		return
	}
	if err := h.sessions.Terminate(r.Context(), id); err != nil {
		slog.Warn("session terminate failed", "session_id", id, "error", err)
	}
	if h.limiter != nil {
		h.limiter.forget(id)
	}
	w.Header().Set(session.HeaderName, id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request, sessionID string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				jsonrpc.Errorf(jsonrpc.CodeInvalidRequest, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, jsonrpc.Errorf(jsonrpc.CodeParseError, "reading body: %v", err))
		return
	}

	ctx := r.Context()
	if uc := strings.TrimSpace(r.Header.Get(UserContextHeader)); uc != "" {
		ctx = dispatch.WithUserContext(ctx, uc)
	}

	batch := jsonrpc.Decode(body)
	if !expectsResponse(batch) {
		for _, env := range batch.Envelopes {
			h.handle(ctx, sessionID, env)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), contentTypeSSE) {
		h.stream(ctx, w, sessionID, batch)
		return
	}
	h.buffer(ctx, w, sessionID, batch)
}

func expectsResponse(b jsonrpc.Batch) bool {
	for _, env := range b.Envelopes {
		if env.ExpectsResponse() {
			return true
		}
	}
	return false
}

// handle runs the dispatcher for one envelope. A panic escaping the
// dispatcher becomes an internal error response and reports crashed.
func (h *Handler) handle(ctx context.Context, sessionID string, env jsonrpc.Envelope) (resp *jsonrpc.Response, crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in dispatcher", "session_id", sessionID, "panic", r)
			resp = jsonrpc.NewErrorResponse(env.ID(), jsonrpc.Errorf(jsonrpc.CodeInternalError, "internal error: %v", r))
			crashed = true
		}
	}()
	return h.dispatcher.Handle(ctx, sessionID, env), false
}

// buffer writes every response in one JSON body: a bare object for a single
// non-array message, an array otherwise.
func (h *Handler) buffer(ctx context.Context, w http.ResponseWriter, sessionID string, batch jsonrpc.Batch) {
	responses := make([]json.RawMessage, 0, len(batch.Envelopes))
	for _, env := range batch.Envelopes {
		resp, _ := h.handle(ctx, sessionID, env)
		if resp != nil {
			responses = append(responses, encode(resp))
		}
	}

	var out []byte
	if !batch.IsArray && len(responses) == 1 {
		out = responses[0]
	} else {
		out, _ = json.Marshal(responses)
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// encode marshals resp, replacing an unencodable result with an internal error.
func encode(resp *jsonrpc.Response) json.RawMessage {
	b, err := json.Marshal(resp)
	if err == nil {
		return b
	}
	slog.Error("encoding response", "error", err)
	b, _ = json.Marshal(jsonrpc.NewErrorResponse(resp.ID,
		jsonrpc.Errorf(jsonrpc.CodeInternalError, "encoding response: %v", err)))
	return b
}

func writeError(w http.ResponseWriter, status int, rpcErr *jsonrpc.Error) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, rpcErr)); err != nil {
		slog.Debug("writing error response", "error", err)
	}
}
