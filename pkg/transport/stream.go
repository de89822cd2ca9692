package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/txn2/mcp-crm-gateway/pkg/jsonrpc"
)

// sseWriter frames messages as server-sent events.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func startSSE(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", contentTypeSSE)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	s := &sseWriter{w: w, rc: http.NewResponseController(w)}
	s.flush()
	return s
}

func (s *sseWriter) data(b []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	s.flush()
	return nil
}

func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("writing comment: %w", err)
	}
	s.flush()
	return nil
}

func (s *sseWriter) flush() {
	if err := s.rc.Flush(); err != nil {
		slog.Debug("sse flush failed", "error", err)
	}
}

// stream writes one event per response in input order. The stream ends
// after the last message, or after the error event of a crashed dispatch.
func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, sessionID string, batch jsonrpc.Batch) {
	sse := startSSE(w)
	for _, env := range batch.Envelopes {
		resp, crashed := h.handle(ctx, sessionID, env)
		if resp != nil {
			if err := sse.data(encode(resp)); err != nil {
				slog.Debug("client went away", "session_id", sessionID, "error", err)
				return
			}
		}
		if crashed {
			return
		}
	}
}

// handleStream holds a GET stream open, emitting heartbeat comments until
// the client disconnects.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sse := startSSE(w)
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.comment("heartbeat"); err != nil {
				return
			}
		}
	}
}
