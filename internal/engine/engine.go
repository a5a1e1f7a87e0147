package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alerta-link/alertalink/internal/catalog"
	"github.com/alerta-link/alertalink/internal/config"
	"github.com/alerta-link/alertalink/internal/crawl"
	"github.com/alerta-link/alertalink/internal/feature"
	"github.com/alerta-link/alertalink/internal/predict"
	"github.com/alerta-link/alertalink/internal/reputation"
	"github.com/alerta-link/alertalink/internal/store"
	"github.com/alerta-link/alertalink/internal/urlcheck"
)

const (
	// DeadlineDefault bounds a request without the crawler; DeadlineCrawl
	// with it.
	DeadlineDefault = 10 * time.Second
	DeadlineCrawl   = 30 * time.Second

	// trancoDiscount is the score reduction applied when the domain is in
	// the top list; vtCleanDiscount when a clean multi-engine verdict
	// arrives. Both are fusion adjustments, distinct from the signal
	// weights recorded in the verdict.
	trancoDiscount  = 30
	vtCleanDiscount = 30
)

// Options steer one analyze call.
type Options struct {
	Model         string // "ml" (default) or "heuristic"
	Mode          string // "auto", "online" or "offline"; empty uses the service setting
	EnableCrawler bool
	Timeout       time.Duration // crawler navigation budget
	MaxRedirects  int
}

// Engine owns the process-wide scoring state: catalogs, model artifacts,
// weights, clients and caches. Requests flow through Analyze; tests build
// isolated engines with stub clients.
type Engine struct {
	Catalog   *catalog.Catalog
	Weights   *predict.Table
	ML        *predict.MLPredictor
	Heuristic *predict.HeuristicPredictor
	Tranco    *reputation.TrancoClient
	VT        *reputation.VTClient
	Whois     *reputation.WhoisClient
	Crawler   *crawl.Crawler
	Store     store.Store
	Lookup    urlcheck.LookupFunc
	Log       zerolog.Logger
	Version   string

	UncertaintyMin int
	UncertaintyMax int
	TrancoEnabled  bool

	mode atomic.Value // string
}

// New wires an engine from configuration. A failed model load degrades to
// the heuristic predictor instead of failing boot.
func New(cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	weights, err := predict.LoadTable(cfg.WeightsPath)
	if err != nil {
		return nil, err
	}
	ml := predict.NewMLPredictor(cfg.ModelPath, cfg.ModelSHA256, log)
	if cfg.ModelPath != "" {
		if err := ml.Load(); err != nil {
			log.Warn().Err(err).Msg("serving with heuristic model only")
		}
	}
	st, err := store.Open(cfg.DatabaseURL, cfg.IngestFallbackDir, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Catalog:   cat,
		Weights:   weights,
		ML:        ml,
		Heuristic: &predict.HeuristicPredictor{Catalog: cat, Weights: weights},
		Tranco: reputation.NewTrancoClient(cfg.TrancoBaseURL, cfg.TrancoAPIKey, cfg.TrancoAPIEmail,
			cfg.TrancoRankThreshold, cfg.CacheSize, log),
		VT: reputation.NewVTClient(cfg.VirusTotalBaseURL, cfg.VirusTotalAPIKey,
			cfg.VirusTotalPerMinute, cfg.CacheSize, log),
		Whois: reputation.NewWhoisClient(cfg.CacheSize, log),
		Crawler: &crawl.Crawler{
			UserAgent:     "alertalink/1.0 (+https://github.com/alerta-link/alertalink)",
			MaxConcurrent: cfg.CrawlerMaxConcurrent,
			Catalog:       cat,
			Log:           log,
			Lookup:        urlcheck.DefaultLookup,
		},
		Store:          st,
		Lookup:         urlcheck.DefaultLookup,
		Log:            log,
		UncertaintyMin: cfg.VTUncertaintyMin,
		UncertaintyMax: cfg.VTUncertaintyMax,
		TrancoEnabled:  true,
	}
	e.mode.Store(cfg.Mode)
	return e, nil
}

// Mode returns the service-wide mode setting.
func (e *Engine) Mode() string {
	if v, ok := e.mode.Load().(string); ok && v != "" {
		return v
	}
	return "auto"
}

// SetMode updates the service-wide mode setting.
func (e *Engine) SetMode(mode string) {
	e.mode.Store(mode)
}

// ReloadModel re-verifies and swaps the model artifact. Wired to SIGHUP.
func (e *Engine) ReloadModel() error {
	return e.ML.Load()
}

// Close releases the persistence collaborator.
func (e *Engine) Close() error {
	if e.Store != nil {
		return e.Store.Close()
	}
	return nil
}

type crawlResult struct {
	report crawl.Report
	ok     bool
}

// Analyze runs the full pipeline: normalize and gate, extract features,
// score with both models, fuse reputation lookups under the policy, merge
// optional crawler evidence and emit the verdict. External unavailability
// never fails the request; only invalid or blocked URLs return an error.
func (e *Engine) Analyze(ctx context.Context, rawURL string, opts Options) (*Verdict, error) {
	requestedAt := time.Now()

	deadline := DeadlineDefault
	if opts.EnableCrawler {
		deadline = DeadlineCrawl
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	u, err := urlcheck.Normalize(rawURL)
	if err != nil {
		return nil, err
	}
	if err := urlcheck.Gate(ctx, u, e.Lookup); err != nil {
		return nil, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = e.Mode()
	}
	offline := mode == "offline"

	// The crawler depends on the gate only and runs alongside the
	// reputation steps; its signals merge before the final clamp.
	var crawlCh chan crawlResult
	if opts.EnableCrawler && e.Crawler != nil && !offline {
		crawlCh = make(chan crawlResult, 1)
		go func() {
			rep, ok := e.Crawler.Crawl(ctx, u, opts.Timeout, opts.MaxRedirects)
			crawlCh <- crawlResult{rep, ok}
		}()
	}

	v := feature.Extract(u, e.Catalog)

	var trancoInfo reputation.TrancoInfo
	trancoConsulted := false
	if !offline && e.Tranco != nil && e.TrancoEnabled {
		trancoInfo, trancoConsulted = e.Tranco.Lookup(ctx, u.Registrable)
		if trancoConsulted && trancoInfo.Rank > 0 && trancoInfo.InTopK {
			v.ApplyTranco(trancoInfo.Rank, e.Tranco.Threshold)
		}
	}

	heurScore, signals := e.Heuristic.Predict(u, v, predict.Externals{})

	mlScore := -1
	modelUsed := "heuristic"
	if opts.Model != "heuristic" && e.ML != nil {
		if p, ok := e.ML.Predict(v); ok {
			mlScore = predict.Score(p)
			modelUsed = "ml"
		}
	}
	score := heurScore
	if modelUsed == "ml" && mlScore > score {
		score = mlScore
	}
	if mlScore >= 0 && absInt(mlScore-heurScore) > 50 {
		for i := range signals {
			signals[i].Evidence["origin"] = "heuristic"
		}
	}

	inTopK := trancoConsulted && trancoInfo.InTopK
	if inTopK {
		if s, ok := predict.TrancoSignal(u, e.Catalog, e.Weights, trancoInfo.Rank); ok {
			score -= trancoDiscount
			if score < 0 {
				score = 0
			}
			signals = append(signals, s)
		}
	} else if trancoConsulted {
		s := predict.NotInTrancoSignal(u, e.Weights)
		score += s.Weight
		signals = append(signals, s)
	}

	// VirusTotal only inside the uncertainty window; WHOIS only off the
	// top list. The two are independent and run in parallel.
	var (
		vtSignal    *predict.Signal
		whoisSignal *predict.Signal
		vtConsulted bool
	)
	g, gctx := errgroup.WithContext(ctx)
	if !offline && e.VT != nil && e.VT.Enabled() && score >= e.UncertaintyMin && score <= e.UncertaintyMax {
		g.Go(func() error {
			rep, consulted := e.VT.Lookup(gctx, u.Normalized)
			vtConsulted = consulted
			if consulted && rep.Analyzed {
				if s, ok := predict.VTSignal(vtStats(rep), e.Weights); ok {
					vtSignal = &s
				}
			}
			return nil
		})
	}
	if !offline && e.Whois != nil && !inTopK {
		g.Go(func() error {
			info, consulted := e.Whois.Lookup(gctx, u.Registrable)
			if consulted && info.HasAge {
				if s, ok := predict.WhoisSignal(u.Registrable, info.AgeDays, e.Weights); ok {
					whoisSignal = &s
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if vtSignal != nil {
		if vtSignal.ID == predict.SigVTClean {
			score -= vtCleanDiscount
			if score < 0 {
				score = 0
			}
		} else {
			score += vtSignal.Weight
		}
		signals = append(signals, *vtSignal)
	}
	if whoisSignal != nil {
		score += whoisSignal.Weight
		signals = append(signals, *whoisSignal)
	}

	var crawlBlock *CrawlBlock
	if crawlCh != nil {
		crawlBlock = &CrawlBlock{Enabled: true}
		select {
		case res := <-crawlCh:
			if res.ok {
				crawlSignals := crawl.Signals(res.report, u.Registrable, e.Weights)
				if inTopK {
					crawlSignals = crawl.FilterTopList(crawlSignals)
				}
				for _, s := range crawlSignals {
					score += s.Weight
					signals = append(signals, s)
				}
				crawlBlock.Status = res.report.Status
				crawlBlock.FinalURL = res.report.FinalURL
				crawlBlock.RedirectChain = res.report.RedirectChain
				crawlBlock.HTMLFingerprint = res.report.HTMLFingerprint
				crawlBlock.Evidence = res.report.Evidence
			}
		case <-ctx.Done():
		}
	}

	score = predict.Clamp(score)
	level := predict.LevelForScore(score)
	predict.SortSignals(signals)

	completedAt := time.Now()
	verdict := &Verdict{
		URL:           rawURL,
		NormalizedURL: u.Normalized,
		Score:         score,
		RiskLevel:     level,
		ModelUsed:     modelUsed,
		ModeUsed:      mode,
		APIsConsulted: APIsConsulted{
			Tranco:     trancoConsulted,
			VirusTotal: vtConsulted,
			Database:   e.Store != nil,
		},
		Signals:         signals,
		Recommendations: predict.Recommendations(level, signals),
		Crawl:           crawlBlock,
		Timestamps: Timestamps{
			RequestedAt: requestedAt,
			CompletedAt: completedAt,
			DurationMs:  completedAt.Sub(requestedAt).Milliseconds(),
		},
		MLScore:        mlScore,
		HeuristicScore: heurScore,
	}

	e.Log.Info().
		Str("url", u.Normalized).
		Int("score", score).
		Str("level", string(level)).
		Str("model", modelUsed).
		Bool("tranco", trancoConsulted).
		Bool("virustotal", vtConsulted).
		Int64("duration_ms", verdict.Timestamps.DurationMs).
		Msg("analyze")

	e.persistAnalysis(verdict)
	return verdict, nil
}

// persistAnalysis writes the analysis trace without blocking the response.
func (e *Engine) persistAnalysis(v *Verdict) {
	if e.Store == nil {
		return
	}
	sig, err := json.Marshal(v.Signals)
	if err != nil {
		sig = []byte("[]")
	}
	rec := store.AnalysisResult{
		URL:               v.URL,
		URLHash:           store.HashURL(v.NormalizedURL),
		Score:             v.Score,
		RiskLevel:         string(v.RiskLevel),
		Signals:           sig,
		MLScore:           v.MLScore,
		HeuristicScore:    v.HeuristicScore,
		TrancoVerified:    v.APIsConsulted.Tranco,
		VirusTotalChecked: v.APIsConsulted.VirusTotal,
		DurationMs:        v.Timestamps.DurationMs,
		CreatedAt:         v.Timestamps.CompletedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Store.SaveAnalysis(ctx, rec); err != nil {
			e.Log.Warn().Err(err).Msg("persist analysis failed")
		}
	}()
}

// WhoisResponse is the /whois/{domain} payload.
type WhoisResponse struct {
	Domain        string `json:"domain"`
	AgeDays       *int   `json:"age_days"`
	IsNewDomain   bool   `json:"is_new_domain"`
	RiskIndicator string `json:"risk_indicator"`
}

// WhoisDomain serves the standalone domain-age check.
func (e *Engine) WhoisDomain(ctx context.Context, domain string) WhoisResponse {
	resp := WhoisResponse{Domain: domain, RiskIndicator: "unknown"}
	if e.Whois == nil {
		return resp
	}
	info, consulted := e.Whois.Lookup(ctx, domain)
	if !consulted || !info.HasAge {
		return resp
	}
	age := info.AgeDays
	resp.AgeDays = &age
	resp.IsNewDomain = age < 30
	switch {
	case age < 30:
		resp.RiskIndicator = "high"
	case age < 180:
		resp.RiskIndicator = "medium"
	default:
		resp.RiskIndicator = "low"
	}
	return resp
}

// Health summarizes readiness for the health endpoint.
type Health struct {
	Status      string          `json:"status"`
	Version     string          `json:"version"`
	ModelLoaded bool            `json:"model_loaded"`
	APIs        map[string]bool `json:"apis"`
}

// HealthInfo reports which collaborators are configured.
func (e *Engine) HealthInfo() Health {
	return Health{
		Status:      "ok",
		Version:     e.Version,
		ModelLoaded: e.ML != nil && e.ML.Available(),
		APIs: map[string]bool{
			"tranco":     e.Tranco != nil && e.TrancoEnabled,
			"virustotal": e.VT != nil && e.VT.Enabled(),
		},
	}
}

func vtStats(r reputation.VTReport) predict.VTStats {
	return predict.VTStats{
		Malicious:    r.Malicious,
		Suspicious:   r.Suspicious,
		Harmless:     r.Harmless,
		TotalEngines: r.TotalEngines,
		ThreatNames:  r.ThreatNames,
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
