package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/engine"
	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/jackd"
	"github.com/contactlaplanque/akm-control/internal/metrics"
)

const testAPIKey = "test-key"

const testConfig = `{
  "jack": {
    "server_path": "/nonexistent/jackd",
    "num_inputs": 2,
    "num_outputs": 0,
    "auto_start_server": false,
    "kill_server_on_shutdown": false
  },
  "monitor": {
    "health_enabled": false,
    "discovery_enabled": false,
    "auto_connect": false
  },
  "synth": {"enabled": false},
  "web": {"api_key": "test-key"}
}`

type apiFixture struct {
	backend *jack.MockBackend
	handler http.Handler
}

func newAPIFixture(t *testing.T, provider *metrics.Provider) *apiFixture {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	cfg := config.New(path)
	require.NoError(t, cfg.Load())

	mb := jack.NewMockBackend()
	eng, err := engine.New(cfg, engine.Options{
		Backend: mb,
		Server: jackd.Options{
			KillSettleDelay: time.Millisecond,
			KillAll: func(context.Context) (bool, error) {
				mb.SetRunning(false)
				return true, nil
			},
		},
		EventLogPath: filepath.Join(dir, "events.jsonl"),
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(t.Context()))
	t.Cleanup(func() { _ = eng.Stop() })

	return &apiFixture{backend: mb, handler: NewServer(cfg, eng, provider).SetupRoutes()}
}

func (f *apiFixture) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestAPIKeyAuth(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing key", "/api/status", "", http.StatusUnauthorized},
		{"wrong key", "/api/status", "nope", http.StatusUnauthorized},
		{"header key", "/api/status", testAPIKey, http.StatusOK},
		{"query key", "/api/status?key=" + testAPIKey, "", http.StatusOK},
		{"healthz is public", "/healthz", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		})
	}
}

func TestAPIStatusAndConfig(t *testing.T) {
	f := newAPIFixture(t, nil)

	code, status := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", status["jack"].(map[string]any)["state"])

	code, cfg := f.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, cfg["web"].(map[string]any)["api_key"])

	code, _ = f.do(t, http.MethodPost, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestAPIPorts(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.backend.AddClient("REAPER", 0, 1)

	code, body := f.do(t, http.MethodGet, "/api/ports?pattern=akMControl:.*&direction=input", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"akMControl:akm_in_1", "akMControl:akm_in_2"}, body["ports"])

	code, _ = f.do(t, http.MethodGet, "/api/ports?direction=sideways", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/ports/connect",
		`{"source":"REAPER:out_1","destination":"akMControl:akm_in_2"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, f.backend.IsConnected("REAPER:out_1", "akMControl:akm_in_2"))

	code, body = f.do(t, http.MethodPost, "/api/ports/connect", `{"source":"REAPER:out_1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "error")

	code, _ = f.do(t, http.MethodPost, "/api/ports/disconnect",
		`{"source":"REAPER:out_1","destination":"akMControl:akm_in_2"}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, f.backend.IsConnected("REAPER:out_1", "akMControl:akm_in_2"))
}

func TestAPIJackDisconnectAndServerKill(t *testing.T) {
	f := newAPIFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/api/jack/disconnect", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/api/server/kill", "")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, f.backend.Running())

	code, body := f.do(t, http.MethodPost, "/api/jack/connect", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body["error"], "not running")
}

func TestAPIClientApproval(t *testing.T) {
	f := newAPIFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/api/clients", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["pending"])

	code, _ = f.do(t, http.MethodPost, "/api/clients/REAPER/accept", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/clients/REAPER/reject", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPIMonitor(t *testing.T) {
	f := newAPIFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/api/monitor", `{"discovery_enabled":true,"discovery_interval_ms":1000}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["discovery_running"])

	code, _ = f.do(t, http.MethodPost, "/api/monitor", `{"health_interval_ms":10}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPISynthAndConsole(t *testing.T) {
	f := newAPIFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/api/synth/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopped", body["state"])

	code, _ = f.do(t, http.MethodPost, "/api/synth/send", `{"code":""}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/synth/send", `{"code":"s.boot;"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = f.do(t, http.MethodPost, "/api/synth/explode", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/api/console/synth?lines=10", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["lines"])

	code, _ = f.do(t, http.MethodGet, "/api/console/bogus", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodGet, "/api/console/synth?lines=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/console/synth", "")
	assert.Equal(t, http.StatusNoContent, code)
}

func TestAPIEvents(t *testing.T) {
	f := newAPIFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/api/server/kill", "")
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodGet, "/api/events?filter=server&limit=10", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["events"])
	assert.Equal(t, false, body["has_more"])

	code, _ = f.do(t, http.MethodGet, "/api/events?filter=everything", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/events?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsEndpoint(t *testing.T) {
	provider, err := metrics.NewPrometheusProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	f := newAPIFixture(t, provider)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	noMetrics := newAPIFixture(t, nil)
	rec = httptest.NewRecorder()
	noMetrics.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
