package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/alerta-link/alertalink/internal/catalog"
	"github.com/alerta-link/alertalink/internal/config"
	"github.com/alerta-link/alertalink/internal/engine"
	"github.com/alerta-link/alertalink/internal/predict"
	"github.com/alerta-link/alertalink/internal/store"
)

func newTestHandler(t *testing.T) (http.Handler, *engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open("", dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.Default()
	weights := predict.DefaultTable()
	e := &engine.Engine{
		Catalog:   cat,
		Weights:   weights,
		ML:        predict.NewMLPredictor("", "", zerolog.Nop()),
		Heuristic: &predict.HeuristicPredictor{Catalog: cat, Weights: weights},
		Store:     st,
		Lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
		},
		Log:            zerolog.Nop(),
		UncertaintyMin: 30,
		UncertaintyMax: 70,
	}
	cfg := &config.Config{
		SecretKey:          "test-secret",
		Mode:               "auto",
		RateLimitPerMinute: 100,
	}
	return New(e, cfg, zerolog.Nop()), e, dir
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func getPath(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAnalyzeEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := postJSON(t, h, "/analyze", `{"url":"https://www.google.com/search?q=x"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var v struct {
		URL           string `json:"url"`
		NormalizedURL string `json:"normalized_url"`
		Score         int    `json:"score"`
		RiskLevel     string `json:"risk_level"`
		ModelUsed     string `json:"model_used"`
		APIsConsulted struct {
			Database bool `json:"database"`
		} `json:"apis_consulted"`
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.RiskLevel != "SAFE" || v.Score != 0 {
		t.Errorf("verdict = %+v", v)
	}
	if v.ModelUsed != "heuristic" {
		t.Errorf("ModelUsed = %q", v.ModelUsed)
	}
	if !v.APIsConsulted.Database {
		t.Error("database not reported as available")
	}
	if len(v.Recommendations) == 0 {
		t.Error("no recommendations")
	}
}

func TestAnalyzeEndpointErrors(t *testing.T) {
	h, _, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"blocked target", `{"url":"http://localhost/admin"}`},
		{"bad scheme", `{"url":"ftp://example.com/f"}`},
		{"too short", `{"url":"http://a."}`},
		{"bad model", `{"url":"https://example.com/x","model":"quantum"}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		if w := postJSON(t, h, "/analyze", tc.body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, w.Code)
		}
	}
}

func TestAnalyzeRateLimit(t *testing.T) {
	dir := t.TempDir()
	st, _ := store.Open("", dir, zerolog.Nop())
	cat := catalog.Default()
	weights := predict.DefaultTable()
	e := &engine.Engine{
		Catalog:   cat,
		Weights:   weights,
		ML:        predict.NewMLPredictor("", "", zerolog.Nop()),
		Heuristic: &predict.HeuristicPredictor{Catalog: cat, Weights: weights},
		Store:     st,
		Lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
		},
		Log:            zerolog.Nop(),
		UncertaintyMin: 30,
		UncertaintyMax: 70,
	}
	cfg := &config.Config{SecretKey: "s", Mode: "auto", RateLimitPerMinute: 2}
	h := New(e, cfg, zerolog.Nop())

	body := `{"url":"https://www.google.com/"}`
	for i := 0; i < 2; i++ {
		if w := postJSON(t, h, "/analyze", body); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	if w := postJSON(t, h, "/analyze", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	// Other routes are not behind the analyze bucket.
	if w := getPath(t, h, "/health"); w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	h, _, dir := newTestHandler(t)

	w := postJSON(t, h, "/report", `{"url":"http://bad.example/x","label":"phishing","comment":"got this by SMS"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status   string `json:"status"`
		ReportID string `json:"report_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "received" || len(resp.ReportID) != 12 {
		t.Errorf("resp = %+v", resp)
	}

	b, err := os.ReadFile(filepath.Join(dir, "reports.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "http://bad.example/x") {
		t.Errorf("report not persisted: %s", b)
	}

	if w := postJSON(t, h, "/report", `{"url":"http://bad.example/x","label":"nonsense"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown label: status = %d", w.Code)
	}
	if w := postJSON(t, h, "/report", `{"label":"phishing"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d", w.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	h, _, dir := newTestHandler(t)

	w := postJSON(t, h, "/ingest", `{"url":"http://sample.example/a","label":1,"source":"feed","metadata":{"seen":3}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	b, err := os.ReadFile(filepath.Join(dir, "ingested_urls.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "http://sample.example/a") {
		t.Errorf("sample not persisted: %s", b)
	}

	if w := postJSON(t, h, "/ingest", `{"url":"http://x.example/a","label":2}`); w.Code != http.StatusBadRequest {
		t.Errorf("label 2: status = %d", w.Code)
	}
	if w := postJSON(t, h, "/ingest", `{"url":"http://x.example/a"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing label: status = %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, e, _ := newTestHandler(t)
	e.Version = "1.2.3"

	w := getPath(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		ModelLoaded bool   `json:"model_loaded"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.ModelLoaded {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSettingsMode(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := getPath(t, h, "/settings")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"auto"`) {
		t.Fatalf("GET /settings: %d %s", w.Code, w.Body.String())
	}

	if w := postJSON(t, h, "/settings/mode", `{"mode":"offline"}`); w.Code != http.StatusOK {
		t.Fatalf("POST /settings/mode: %d", w.Code)
	}
	if w := getPath(t, h, "/settings"); !strings.Contains(w.Body.String(), `"offline"`) {
		t.Errorf("mode not persisted: %s", w.Body.String())
	}
	if w := postJSON(t, h, "/settings/mode", `{"mode":"turbo"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad mode: status = %d", w.Code)
	}
}

func TestWhoisEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := getPath(t, h, "/whois/example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Domain        string `json:"domain"`
		RiskIndicator string `json:"risk_indicator"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Domain != "example.com" || resp.RiskIndicator != "unknown" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	dir := t.TempDir()
	st, _ := store.Open("", dir, zerolog.Nop())
	cat := catalog.Default()
	weights := predict.DefaultTable()
	e := &engine.Engine{
		Catalog:   cat,
		Weights:   weights,
		ML:        predict.NewMLPredictor("", "", zerolog.Nop()),
		Heuristic: &predict.HeuristicPredictor{Catalog: cat, Weights: weights},
		Store:     st,
		Log:       zerolog.Nop(),
	}
	cfg := &config.Config{
		SecretKey:          "s",
		Mode:               "auto",
		RateLimitPerMinute: 100,
		CORSOrigins:        []string{"https://app.example.com"},
	}
	h := New(e, cfg, zerolog.Nop())

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}
