// Package health provides readiness state tracking and HTTP health check
// handlers for the gateway.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// probeTimeout bounds each readiness probe.
const probeTimeout = 2 * time.Second

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// DetailFunc contributes informational fields to the readiness body.
type DetailFunc func(ctx context.Context) any

// Checker tracks the readiness state of the gateway.
// It is safe for concurrent use.
type Checker struct {
	state atomic.Int32

	mu      sync.RWMutex
	probes  map[string]Probe
	details map[string]DetailFunc
}

// NewChecker creates a Checker in the Starting state.
func NewChecker() *Checker {
	return &Checker{
		probes:  make(map[string]Probe),
		details: make(map[string]DetailFunc),
	}
}

// AddProbe registers a dependency check run on every readiness request.
func (c *Checker) AddProbe(name string, p Probe) {
	c.mu.Lock()
	c.probes[name] = p
	c.mu.Unlock()
}

// AddDetail registers an informational section of the readiness body.
func (c *Checker) AddDetail(name string, f DetailFunc) {
	c.mu.Lock()
	c.details[name] = f
	c.mu.Unlock()
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
// Use this for /healthz.
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when ready
// and every probe passes, and 503 otherwise. Use this for /readyz.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: c.State()}
		ok := c.IsReady()

		c.mu.RLock()
		defer c.mu.RUnlock()

		if len(c.probes) > 0 {
			resp.Checks = make(map[string]string, len(c.probes))
			for _, name := range sortedNames(c.probes) {
				ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
				err := c.probes[name](ctx)
				cancel()
				if err != nil {
					resp.Checks[name] = err.Error()
					ok = false
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		if len(c.details) > 0 {
			resp.Details = make(map[string]any, len(c.details))
			for name, f := range c.details {
				resp.Details[name] = f(r.Context())
			}
		}

		if ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		if resp.Status == "ready" {
			resp.Status = "degraded"
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

func sortedNames(m map[string]Probe) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
