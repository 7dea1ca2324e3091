package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printfleet/dashboard-server/internal/apperr"
	"printfleet/dashboard-server/internal/config"
	"printfleet/dashboard-server/internal/feed/wsfeed"
	"printfleet/dashboard-server/internal/fleet"
	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/mqttbroker"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		HTTPPort:         8080,
		DatabasePath:     filepath.Join(t.TempDir(), "fleet.db"),
		LogLimit:         50,
		LineUniverse:     15,
		HeartbeatTimeout: time.Minute,
		LivenessSchedule: "@every 30s",
		WriteRate:        1000,
		WriteBurst:       1000,
	}
}

func newTestApp(t *testing.T, cfg config.Config) (*App, *httptest.Server) {
	t.Helper()
	a := New(cfg, quiet)
	require.NoError(t, a.setup(context.Background()))
	t.Cleanup(a.teardown)

	srv := httptest.NewServer(a.routes())
	t.Cleanup(srv.Close)
	return a, srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthAndReadiness(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t))

	status, body := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = do(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "starting", body["status"])

	a.broker = mqttbroker.New(quiet)
	status, body = do(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
}

func TestPrinterLifecycle(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t))

	status, body := do(t, srv, http.MethodPost, "/api/printers", map[string]string{"label": "Front Desk"})
	require.Equal(t, http.StatusCreated, status)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return len(a.printers.Items()) == 1 }, 2*time.Second, 10*time.Millisecond)

	status, body = do(t, srv, http.MethodGet, "/api/printers", nil)
	require.Equal(t, http.StatusOK, status)
	printers := body["printers"].([]any)
	require.Len(t, printers, 1)
	p := printers[0].(map[string]any)
	assert.Equal(t, "Front Desk", p["label"])
	assert.Equal(t, "Front Desk", p["location"])
	assert.Equal(t, false, p["isOnline"])
	assert.Equal(t, map[string]any{"total": float64(1), "online": float64(0), "offline": float64(1)}, body["summary"])
	assert.Equal(t, false, body["loading"])

	status, _ = do(t, srv, http.MethodPatch, "/api/printers/"+id, map[string]any{"isOnline": true})
	require.Equal(t, http.StatusNoContent, status)
	require.Eventually(t, func() bool {
		items := a.printers.Items()
		return len(items) == 1 && items[0].IsOnline
	}, 2*time.Second, 10*time.Millisecond)

	status, body = do(t, srv, http.MethodPatch, "/api/printers/missing", map[string]any{"isOnline": true})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, body = do(t, srv, http.MethodPost, "/api/printers", map[string]string{"label": "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", errorCode(body))

	status, body = do(t, srv, http.MethodPost, "/api/printers", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", errorCode(body))
}

func TestLogsAreFilteredAndCounted(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t))

	for _, entry := range []map[string]string{
		{"level": "info", "message": "Paper low on Front Desk"},
		{"level": "error", "message": "Jam on Kitchen"},
		{"level": "error", "message": "Cutter fault on Front Desk"},
	} {
		status, _ := do(t, srv, http.MethodPost, "/api/logs", entry)
		require.Equal(t, http.StatusCreated, status)
	}
	require.Eventually(t, func() bool { return len(a.logs.Items()) == 3 }, 2*time.Second, 10*time.Millisecond)

	status, body := do(t, srv, http.MethodGet, "/api/logs?level=error&q=front+desk", nil)
	require.Equal(t, http.StatusOK, status)
	logs := body["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "Cutter fault on Front Desk", logs[0].(map[string]any)["message"])

	counts := body["counts"].(map[string]any)
	assert.Equal(t, float64(3), counts["total"])
	assert.Equal(t, map[string]any{"info": float64(1), "success": float64(0), "warning": float64(0), "error": float64(2)}, counts["byLevel"])

	status, body = do(t, srv, http.MethodGet, "/api/logs?recent=2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["logs"], 2)

	status, body = do(t, srv, http.MethodGet, "/api/logs?level=critical", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", errorCode(body))

	status, _ = do(t, srv, http.MethodPost, "/api/logs", map[string]string{"level": "loud", "message": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func createTemplate(t *testing.T, srv *httptest.Server, name string) string {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, "/api/templates", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, status)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestTemplateLineEditing(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t))
	id := createTemplate(t, srv, "Counter")

	status, first := do(t, srv, http.MethodPost, "/api/templates/"+id+"/lines", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(1), first["line"])
	assert.Equal(t, float64(model.DefaultLineFontSize), first["fontSize"])
	assert.Equal(t, "left", first["alignment"])

	status, second := do(t, srv, http.MethodPost, "/api/templates/"+id+"/lines", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(2), second["line"])

	firstID := first["id"].(string)
	status, body := do(t, srv, http.MethodPatch, "/api/templates/"+id+"/lines/"+firstID, map[string]any{"line": 2})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", errorCode(body))

	status, body = do(t, srv, http.MethodPatch, "/api/templates/"+id+"/lines/"+firstID, map[string]any{"line": 5, "fontSize": 6, "alignment": "center"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(5), body["line"])
	assert.Equal(t, float64(6), body["fontSize"])
	assert.Equal(t, "center", body["alignment"])

	status, _ = do(t, srv, http.MethodPatch, "/api/templates/"+id+"/lines/"+firstID, map[string]any{"fontSize": 11})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodDelete, "/api/templates/"+id+"/lines/"+second["id"].(string), nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, body = do(t, srv, http.MethodDelete, "/api/templates/"+id+"/lines/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	tpl, err := a.loadTemplate(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, tpl.Lines, 1)
	assert.Equal(t, model.LineDecoration{ID: firstID, Line: 5, FontSize: 6, Alignment: model.AlignCenter}, tpl.Lines[0])

	status, body = do(t, srv, http.MethodGet, "/api/templates/"+id+"/preview?scheme=lines", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "lines", body["scheme"])
	instructions := body["instructions"].([]any)
	require.Len(t, instructions, 18)
	fifth := instructions[4].(map[string]any)["style"].(map[string]any)
	assert.Equal(t, float64(6), fifth["fontSize"])
	assert.Equal(t, true, fifth["bold"])

	status, _ = do(t, srv, http.MethodGet, "/api/templates/"+id+"/preview?scheme=columns", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, srv, http.MethodGet, "/api/templates/missing/preview", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTemplateSections(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t))
	id := createTemplate(t, srv, "Bar")

	status, body := do(t, srv, http.MethodPatch, "/api/templates/"+id+"/sections/footer", map[string]any{"fontSize": 10, "alignment": "right", "isBold": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"fontSize": float64(10), "alignment": "right", "isBold": true}, body["footer"])

	status, _ = do(t, srv, http.MethodPatch, "/api/templates/"+id+"/sections/sidebar", map[string]any{"fontSize": 10, "alignment": "right"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, srv, http.MethodPatch, "/api/templates/"+id+"/sections/header", map[string]any{"fontSize": 100, "alignment": "right"})
	assert.Equal(t, http.StatusBadRequest, status)

	sections := model.DefaultSections()
	sections.Header.FontSize = 30
	status, _ = do(t, srv, http.MethodPut, "/api/templates/"+id+"/sections", sections)
	require.Equal(t, http.StatusNoContent, status)

	tpl, err := a.loadTemplate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, sections, tpl.Sections)

	status, body = do(t, srv, http.MethodGet, "/api/templates/"+id+"/preview", nil)
	require.Equal(t, http.StatusOK, status)
	first := body["instructions"].([]any)[0].(map[string]any)
	assert.Equal(t, "COFFEE SHOP", first["text"])
	assert.Equal(t, float64(30), first["style"].(map[string]any)["fontSize"])

	status, _ = do(t, srv, http.MethodDelete, "/api/templates/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = do(t, srv, http.MethodDelete, "/api/templates/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTestPrint(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t))

	var mu sync.Mutex
	var sentTo string
	var sent []byte
	var sendErr error
	a.sendPrint = func(_ context.Context, addr string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sentTo, sent = addr, payload
		return sendErr
	}

	id, err := a.fleet.CreatePrinter(context.Background(), "Kitchen", "")
	require.NoError(t, err)

	status, body := do(t, srv, http.MethodPost, "/api/printers/"+id+"/test-print", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"].(map[string]any)["message"], "has no url")

	url := "tcp://10.0.0.5:9100"
	require.NoError(t, a.fleet.UpdatePrinter(context.Background(), id, fleet.PrinterPatch{URL: &url}))

	tplID := createTemplate(t, srv, "Kitchen ticket")
	status, body = do(t, srv, http.MethodPost, "/api/printers/"+id+"/test-print", map[string]string{"templateId": tplID, "scheme": "sections"})
	require.Equal(t, http.StatusAccepted, status)
	mu.Lock()
	assert.Equal(t, "10.0.0.5:9100", sentTo)
	assert.Equal(t, float64(len(sent)), body["bytes"])
	assert.True(t, bytes.Contains(sent, []byte("COFFEE SHOP")))
	sendErr = errors.New("connection refused")
	mu.Unlock()

	status, body = do(t, srv, http.MethodPost, "/api/printers/"+id+"/test-print", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "NETWORK_FAILURE", errorCode(body))

	status, _ = do(t, srv, http.MethodPost, "/api/printers/missing/test-print", nil)
	assert.Equal(t, http.StatusNotFound, status)

	require.Eventually(t, func() bool {
		var ok, failed bool
		for _, e := range a.logs.Items() {
			ok = ok || (e.Level == model.LevelSuccess && e.Message == "Test print sent to Kitchen")
			failed = failed || (e.Level == model.LevelError && strings.HasPrefix(e.Message, "Test print to Kitchen failed"))
		}
		return ok && failed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPrinterAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.5:9100", printerAddr("tcp://10.0.0.5:9100"))
	assert.Equal(t, "printer.local", printerAddr("http://printer.local/"))
	assert.Equal(t, "192.168.1.20:9100", printerAddr(" 192.168.1.20:9100 "))
	assert.Equal(t, "", printerAddr(""))
}

func TestAPIKeyGuardsAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIKey = "s3cret"
	_, srv := newTestApp(t, cfg)

	status, body := do(t, srv, http.MethodGet, "/api/printers", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "PERMISSION_DENIED", errorCode(body))

	status, _ = do(t, srv, http.MethodGet, "/api/printers", nil, wsfeed.APIKeyHeader, "s3cret")
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestWritesAreRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.WriteRate = 0.001
	cfg.WriteBurst = 1
	_, srv := newTestApp(t, cfg)

	status, _ := do(t, srv, http.MethodPost, "/api/printers", map[string]string{"label": "One"})
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, srv, http.MethodPost, "/api/printers", map[string]string{"label": "Two"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", errorCode(body))

	// Reads are not throttled.
	status, _ = do(t, srv, http.MethodGet, "/api/printers", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRefreshStore(t *testing.T) {
	_, srv := newTestApp(t, testConfig(t))

	status, body := do(t, srv, http.MethodPost, "/api/stores/"+fleet.StoreLogs+"/refresh", nil)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "logs", body["store"])

	status, _ = do(t, srv, http.MethodPost, "/api/stores/jobs/refresh", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFeedEndpointServesLiveStores(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIKey = "k"
	a, srv := newTestApp(t, cfg)

	_, err := a.fleet.CreatePrinter(context.Background(), "Lobby", "Ground floor")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/feed"
	remote := fleet.NewPrinterStore(wsfeed.NewClient(wsURL, "k", quiet), quiet)
	t.Cleanup(remote.Close)
	remote.Refresh()

	require.Eventually(t, func() bool {
		items := remote.Items()
		return len(items) == 1 && items[0].Label == "Lobby" && items[0].Location == "Ground floor"
	}, 3*time.Second, 10*time.Millisecond)

	denied := fleet.NewPrinterStore(wsfeed.NewClient(wsURL, "wrong", quiet), quiet)
	t.Cleanup(denied.Close)
	denied.Refresh()
	require.Eventually(t, func() bool { return denied.Err() != nil }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(denied.Err()))
}
