package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/alerta-link/alertalink/internal/catalog"
	"github.com/alerta-link/alertalink/internal/feature"
	"github.com/alerta-link/alertalink/internal/predict"
	"github.com/alerta-link/alertalink/internal/reputation"
	"github.com/alerta-link/alertalink/internal/urlcheck"
)

func publicLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
}

// newTestEngine wires an engine with no external collaborators; tests attach
// stubs as needed.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cat := catalog.Default()
	weights := predict.DefaultTable()
	return &Engine{
		Catalog:        cat,
		Weights:        weights,
		ML:             predict.NewMLPredictor("", "", zerolog.Nop()),
		Heuristic:      &predict.HeuristicPredictor{Catalog: cat, Weights: weights},
		Lookup:         publicLookup,
		Log:            zerolog.Nop(),
		UncertaintyMin: 30,
		UncertaintyMax: 70,
	}
}

// trancoStub serves ranks for the given domains and 404 for everything else.
func trancoStub(t *testing.T, ranks map[string]int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		domain := strings.TrimPrefix(r.URL.Path, "/ranks/domain/")
		rank, ok := ranks[domain]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"ranks":[{"date":"2026-08-20","rank":%d}]}`, rank)
	}))
}

// constantModel writes an artifact whose prediction is sigmoid(intercept)
// regardless of input, loads it and returns the predictor.
func constantModel(t *testing.T, intercept float64) *predict.MLPredictor {
	t.Helper()
	names := feature.Names()
	a := predict.Artifact{Version: "const", FeatureNames: names}
	a.Scaler.Mean = make([]float64, len(names))
	a.Scaler.Scale = make([]float64, len(names))
	for i := range a.Scaler.Scale {
		a.Scaler.Scale[i] = 1
	}
	a.LogReg.Coef = make([]float64, len(names))
	a.LogReg.Intercept = intercept

	b, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(b)
	ml := predict.NewMLPredictor(path, hex.EncodeToString(sum[:]), zerolog.Nop())
	if err := ml.Load(); err != nil {
		t.Fatal(err)
	}
	return ml
}

func signalIDs(v *Verdict) map[string]bool {
	set := make(map[string]bool, len(v.Signals))
	for _, s := range v.Signals {
		set[s.ID] = true
	}
	return set
}

func TestAnalyzeTrustedTopListDomain(t *testing.T) {
	e := newTestEngine(t)
	srv := trancoStub(t, map[string]int{"google.com": 1}, nil)
	defer srv.Close()
	e.Tranco = reputation.NewTrancoClient(srv.URL, "", "", 100000, 16, zerolog.Nop())
	e.TrancoEnabled = true

	v, err := e.Analyze(context.Background(), "https://www.google.com/search?q=weather", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if v.Score != 0 || v.RiskLevel != predict.LevelSafe {
		t.Errorf("score=%d level=%s, want 0 SAFE", v.Score, v.RiskLevel)
	}
	if v.ModelUsed != "heuristic" || v.ModeUsed != "auto" {
		t.Errorf("model=%q mode=%q", v.ModelUsed, v.ModeUsed)
	}
	if !v.APIsConsulted.Tranco || v.APIsConsulted.VirusTotal {
		t.Errorf("apis = %+v", v.APIsConsulted)
	}
	ids := signalIDs(v)
	if !ids[predict.SigDomainInTranco] || !ids[predict.SigTrustedDomain] {
		t.Errorf("signals = %v", ids)
	}
}

func TestAnalyzePhishingURL(t *testing.T) {
	e := newTestEngine(t)
	srv := trancoStub(t, nil, nil)
	defer srv.Close()
	e.Tranco = reputation.NewTrancoClient(srv.URL, "", "", 100000, 16, zerolog.Nop())
	e.TrancoEnabled = true

	v, err := e.Analyze(context.Background(), "http://paypa1-secure.xyz/login", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if v.Score != 100 || v.RiskLevel != predict.LevelHigh {
		t.Errorf("score=%d level=%s, want 100 HIGH", v.Score, v.RiskLevel)
	}
	ids := signalIDs(v)
	for _, want := range []string{
		predict.SigBrandImpersonation, predict.SigNoHTTPS,
		predict.SigRiskyTLD, predict.SigDomainNotInTranco,
	} {
		if !ids[want] {
			t.Errorf("missing signal %s", want)
		}
	}
	if len(v.Recommendations) == 0 {
		t.Error("no recommendations for a HIGH verdict")
	}

	// Signals arrive sorted by descending absolute weight.
	for i := 1; i < len(v.Signals); i++ {
		if absInt(v.Signals[i].Weight) > absInt(v.Signals[i-1].Weight) {
			t.Errorf("signals out of order at %d: %v", i, v.Signals)
		}
	}
}

func TestAnalyzeShortenerWithModel(t *testing.T) {
	e := newTestEngine(t)
	srv := trancoStub(t, map[string]int{"bit.ly": 5000}, nil)
	defer srv.Close()
	e.Tranco = reputation.NewTrancoClient(srv.URL, "", "", 100000, 16, zerolog.Nop())
	e.TrancoEnabled = true
	// sigmoid(ln 1.5) = 0.6, so the model answers 60 for anything.
	e.ML = constantModel(t, math.Log(1.5))

	v, err := e.Analyze(context.Background(), "https://bit.ly/3xR9kL2m", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if v.ModelUsed != "ml" {
		t.Errorf("ModelUsed = %q", v.ModelUsed)
	}
	if v.Score != 60 || v.RiskLevel != predict.LevelMedium {
		t.Errorf("score=%d level=%s, want 60 MEDIUM", v.Score, v.RiskLevel)
	}
	ids := signalIDs(v)
	if !ids[predict.SigURLShortener] {
		t.Error("missing URL_SHORTENER")
	}
	// A shortener's own rank must not discount the verdict.
	if ids[predict.SigDomainInTranco] {
		t.Error("shortener received DOMAIN_IN_TRANCO")
	}
}

func TestAnalyzeHeuristicModelOption(t *testing.T) {
	e := newTestEngine(t)
	e.ML = constantModel(t, math.Log(1.5))

	v, err := e.Analyze(context.Background(), "https://bit.ly/3xR9kL2m", Options{Model: "heuristic"})
	if err != nil {
		t.Fatal(err)
	}
	if v.ModelUsed != "heuristic" {
		t.Errorf("ModelUsed = %q", v.ModelUsed)
	}
	if v.Score != 21 {
		t.Errorf("score = %d, want 21", v.Score)
	}
}

func TestAnalyzeDivergenceTagsOrigin(t *testing.T) {
	e := newTestEngine(t)
	// sigmoid(ln 99) is just under 0.99: the model is far from the rules.
	e.ML = constantModel(t, math.Log(99))

	v, err := e.Analyze(context.Background(), "https://bit.ly/3xR9kL2m", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if v.Score != 99 {
		t.Errorf("score = %d, want 99", v.Score)
	}
	for _, s := range v.Signals {
		if s.Evidence["origin"] != "heuristic" {
			t.Errorf("signal %s missing origin tag: %v", s.ID, s.Evidence)
		}
	}
}

func TestAnalyzeVirusTotalWindow(t *testing.T) {
	var vtCalls atomic.Int32
	vtSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vtCalls.Add(1)
		fmt.Fprint(w, `{"data":{"attributes":{"last_analysis_stats":{
			"harmless":50,"malicious":8,"suspicious":2,"undetected":10,"timeout":0}}}}`)
	}))
	defer vtSrv.Close()

	e := newTestEngine(t)
	e.VT = reputation.NewVTClient(vtSrv.URL, "test-key", 4, 16, zerolog.Nop())

	// Heuristic 49 sits inside the [30,70] window: VirusTotal is consulted.
	v, err := e.Analyze(context.Background(), "http://suspicious-site.com/x", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !v.APIsConsulted.VirusTotal {
		t.Error("VirusTotal not consulted inside the window")
	}
	if vtCalls.Load() != 1 {
		t.Errorf("VirusTotal called %d times", vtCalls.Load())
	}
	if !signalIDs(v)[predict.SigVTMaliciousHigh] {
		t.Errorf("signals = %v", signalIDs(v))
	}
	if v.Score != 100 || v.RiskLevel != predict.LevelHigh {
		t.Errorf("score=%d level=%s", v.Score, v.RiskLevel)
	}

	// Already conclusive: no quota spent outside the window.
	before := vtCalls.Load()
	if _, err := e.Analyze(context.Background(), "http://paypa1-secure.xyz/login", Options{}); err != nil {
		t.Fatal(err)
	}
	if vtCalls.Load() != before {
		t.Error("VirusTotal consulted outside the uncertainty window")
	}
}

func TestAnalyzeOfflineMode(t *testing.T) {
	var trancoCalls atomic.Int32
	srv := trancoStub(t, map[string]int{"google.com": 1}, &trancoCalls)
	defer srv.Close()

	e := newTestEngine(t)
	e.Tranco = reputation.NewTrancoClient(srv.URL, "", "", 100000, 16, zerolog.Nop())
	e.TrancoEnabled = true

	v, err := e.Analyze(context.Background(), "https://www.google.com/", Options{Mode: "offline"})
	if err != nil {
		t.Fatal(err)
	}
	if v.ModeUsed != "offline" {
		t.Errorf("ModeUsed = %q", v.ModeUsed)
	}
	if v.APIsConsulted.Tranco || trancoCalls.Load() != 0 {
		t.Errorf("external lookups ran offline: apis=%+v calls=%d", v.APIsConsulted, trancoCalls.Load())
	}
}

func TestAnalyzeRejectsBlockedAndInvalid(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.Analyze(context.Background(), "http://localhost/admin", Options{}); !errors.Is(err, urlcheck.ErrBlockedTarget) {
		t.Errorf("localhost: got %v, want ErrBlockedTarget", err)
	}
	if _, err := e.Analyze(context.Background(), "http://127.0.0.1/login", Options{}); !errors.Is(err, urlcheck.ErrBlockedTarget) {
		t.Errorf("loopback: got %v, want ErrBlockedTarget", err)
	}
	if _, err := e.Analyze(context.Background(), "ftp://example.com/f", Options{}); !errors.Is(err, urlcheck.ErrInvalidURL) {
		t.Errorf("bad scheme: got %v, want ErrInvalidURL", err)
	}
	if _, err := e.Analyze(context.Background(), "http://a.", Options{}); !errors.Is(err, urlcheck.ErrInvalidURL) {
		t.Errorf("short input: got %v, want ErrInvalidURL", err)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	e := newTestEngine(t)
	srv := trancoStub(t, nil, nil)
	defer srv.Close()
	e.Tranco = reputation.NewTrancoClient(srv.URL, "", "", 100000, 16, zerolog.Nop())
	e.TrancoEnabled = true

	// The host name carries two brand tokens; every run must report the
	// same one with identical weights, evidence and explanations.
	const raw = "http://paypal-netflix-login.example/verify"
	first, err := e.Analyze(context.Background(), raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		v, err := e.Analyze(context.Background(), raw, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if v.Score != first.Score || !reflect.DeepEqual(v.Signals, first.Signals) {
			t.Fatalf("run %d diverges: score %d vs %d\nsignals %+v\nvs      %+v",
				i, v.Score, first.Score, v.Signals, first.Signals)
		}
	}
}

func TestWhoisDomain(t *testing.T) {
	e := newTestEngine(t)
	resp := e.WhoisDomain(context.Background(), "example.com")
	if resp.RiskIndicator != "unknown" || resp.AgeDays != nil {
		t.Errorf("resp = %+v, want unknown without a client", resp)
	}
}

func TestModeRoundtrip(t *testing.T) {
	e := newTestEngine(t)
	if got := e.Mode(); got != "auto" {
		t.Errorf("default mode = %q", got)
	}
	e.SetMode("offline")
	if got := e.Mode(); got != "offline" {
		t.Errorf("mode = %q", got)
	}
}

func TestHealthInfo(t *testing.T) {
	e := newTestEngine(t)
	e.Version = "test"
	h := e.HealthInfo()
	if h.Status != "ok" || h.Version != "test" {
		t.Errorf("health = %+v", h)
	}
	if h.ModelLoaded {
		t.Error("ModelLoaded without an artifact")
	}
	if h.APIs["tranco"] || h.APIs["virustotal"] {
		t.Errorf("APIs = %v", h.APIs)
	}
}
