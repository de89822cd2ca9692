package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-crm-gateway/pkg/health"
)

func TestServe_ServesAndDrains(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	checker := health.NewChecker()
	streamDone := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux.HandleFunc("GET /stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(streamDone)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, ln, 5*time.Second, mux, checker) }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/ok") //nolint:noctx // test
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusTeapot
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, checker.IsReady())

	resp, err := http.Get(url + "/stream") //nolint:noctx // test
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	<-streamDone
	assert.Equal(t, "draining", checker.State())
}

func TestRun_BadAddress(t *testing.T) {
	err := Run(context.Background(), Config{Address: "256.0.0.1:bad"}, http.NewServeMux(), health.NewChecker())
	assert.ErrorContains(t, err, "listening on")
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", Version)
}
