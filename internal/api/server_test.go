package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/beacon/internal/alerts"
	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
	"github.com/hugo-lorenzo-mato/beacon/internal/logstore"
	"github.com/hugo-lorenzo-mato/beacon/internal/metrics"
	"github.com/hugo-lorenzo-mato/beacon/internal/storage"
	"github.com/hugo-lorenzo-mato/beacon/internal/tracker"
)

// staticSampler avoids touching the host during API tests.
type staticSampler struct{ sample core.SystemMetricsSample }

func (s staticSampler) Sample() core.SystemMetricsSample {
	sample := s.sample
	sample.Timestamp = time.Now()
	return sample
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "beacon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.New(100)
	t.Cleanup(bus.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	logs := logstore.New(db, bus, logger, logstore.DefaultConfig())
	workflows := tracker.New(db, logs, bus, logger, tracker.DefaultConfig())
	engine := alerts.New(db, logs, bus, logger, alerts.Config{
		RulesPath: filepath.Join(t.TempDir(), "rules.yaml"),
	})
	collector := metrics.New(db, bus, engine,
		staticSampler{sample: core.SystemMetricsSample{CPUPercent: 10, MemPercent: 20, DiskPercent: 30}},
		logger, metrics.DefaultConfig())

	srv := NewServer(logs, workflows, collector, engine, bus, WithLogger(logger))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "logs")
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body, "alerts")
}

func TestLogWriteAndQuery(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/logs", map[string]any{
		"module":  "ingest",
		"level":   "warning",
		"message": "slow upstream",
		"status":  "retry",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/logs/recent?module=ingest")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	logs := body["logs"].([]any)
	require.Len(t, logs, 1)
	rec := logs[0].(map[string]any)
	assert.Equal(t, "slow upstream", rec["message"])
	assert.Equal(t, "warning", rec["level"])
}

func TestLogWriteValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/logs", map[string]any{"module": "", "message": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/api/v1/workflows"

	resp := postJSON(t, base, map[string]any{"type": "deploy", "metadata": map[string]any{"env": "prod"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody(t, resp)["id"].(string)
	require.NotEmpty(t, id)

	resp = postJSON(t, base+"/"+id+"/steps", map[string]any{"name": "build", "module": "ci"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	stepID := decodeBody(t, resp)["id"].(string)

	resp = postJSON(t, base+"/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, base+"/"+id+"/steps/"+stepID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, base+"/"+id+"/steps/"+stepID+"/complete", map[string]any{"duration_ms": 120})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeBody(t, resp)

	// Completing the only step auto-completes the workflow.
	assert.Equal(t, "completed", view["status"])
	assert.InDelta(t, 100.0, view["progress"].(float64), 0.001)

	resp, err := http.Get(base + "/" + id)
	require.NoError(t, err)
	got := decodeBody(t, resp)
	assert.Equal(t, "completed", got["status"])

	// Terminal workflows reject further transitions.
	resp = postJSON(t, base+"/"+id+"/fail", map[string]any{"error": "late"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestWorkflowNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/workflows/absent")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/workflows/absent/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestWorkflowCreateRequiresType(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/workflows", map[string]any{"type": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestMetricsEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/metrics/sample", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sample := decodeBody(t, resp)
	assert.InDelta(t, 10.0, sample["cpu_percent"].(float64), 0.001)

	resp, err := http.Get(ts.URL + "/api/v1/metrics/summary")
	require.NoError(t, err)
	summary := decodeBody(t, resp)
	require.NotNil(t, summary["current"])

	resp, err = http.Get(ts.URL + "/api/v1/metrics/system?hours=1")
	require.NoError(t, err)
	system := decodeBody(t, resp)
	samples := system["samples"].([]any)
	assert.Len(t, samples, 1)
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/api/v1/alerts"

	resp := postJSON(t, base, map[string]any{
		"type":     "system",
		"severity": "warning",
		"title":    "cpu high",
		"message":  "sustained load",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody(t, resp)["id"].(string)
	require.NotEmpty(t, id)

	resp, err := http.Get(base)
	require.NoError(t, err)
	listing := decodeBody(t, resp)
	require.Len(t, listing["alerts"].([]any), 1)

	resp = postJSON(t, base+"/"+id+"/acknowledge", map[string]any{"actor": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, base+"/"+id+"/dismiss", map[string]any{"actor": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base)
	require.NoError(t, err)
	listing = decodeBody(t, resp)
	assert.Empty(t, listing["alerts"])

	resp, err = http.Get(base + "/history")
	require.NoError(t, err)
	history := decodeBody(t, resp)
	assert.Len(t, history["history"].([]any), 3)

	// Dismissed alerts are gone for further actions.
	resp = postJSON(t, base+"/"+id+"/dismiss", map[string]any{"actor": "bob"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAlertAutoDismissDefaults(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/api/v1/alerts"

	// Omitted auto-dismiss fields fall back to the engine's window.
	resp := postJSON(t, base, map[string]any{
		"type": "system", "severity": "info", "title": "transient", "message": "m",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(base)
	require.NoError(t, err)
	listing := decodeBody(t, resp)
	created := listing["alerts"].([]any)[0].(map[string]any)
	require.NotNil(t, created["expires_at"])
	expiresAt, err := time.Parse(time.RFC3339Nano, created["expires_at"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, time.Minute)

	// An explicit opt-out keeps the alert until dismissed.
	resp = postJSON(t, base, map[string]any{
		"type": "system", "severity": "info", "title": "pinned", "message": "m",
		"auto_dismiss": false,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base + "?type=system")
	require.NoError(t, err)
	listing = decodeBody(t, resp)
	for _, raw := range listing["alerts"].([]any) {
		a := raw.(map[string]any)
		if a["title"] == "pinned" {
			assert.Nil(t, a["expires_at"])
		}
	}
}

func TestAlertRulesOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/api/v1/alerts/rules"

	resp := postJSON(t, base, map[string]any{
		"name": "high-cpu",
		"type": "performance",
		"condition": map[string]any{
			"kind":      "performance",
			"metric":    "cpu_percent",
			"threshold": 90,
		},
		"action": map[string]any{
			"severity": "critical",
		},
		"enabled": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(base)
	require.NoError(t, err)
	body := decodeBody(t, resp)
	rules := body["rules"].([]any)
	require.Len(t, rules, 1)
	assert.Equal(t, "high-cpu", rules[0].(map[string]any)["name"])

	// Rule validation failures map to 422.
	resp = postJSON(t, base, map[string]any{"name": "", "type": "performance"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestEvaluateRulesOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/alerts/rules", map[string]any{
		"name": "mem-critical",
		"type": "performance",
		"condition": map[string]any{
			"kind":      "performance",
			"metric":    "mem_percent",
			"threshold": 90,
		},
		"action":  map[string]any{"severity": "critical"},
		"enabled": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/alerts/evaluate", map[string]any{
		"metrics": map[string]any{"mem_percent": 95},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	raised := body["created"].([]any)
	assert.Len(t, raised, 1)
}
