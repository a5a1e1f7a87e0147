package engine

import (
	"time"

	"github.com/alerta-link/alertalink/internal/crawl"
	"github.com/alerta-link/alertalink/internal/predict"
)

// Verdict is the /analyze response body.
type Verdict struct {
	URL             string           `json:"url"`
	NormalizedURL   string           `json:"normalized_url"`
	Score           int              `json:"score"`
	RiskLevel       predict.Level    `json:"risk_level"`
	ModelUsed       string           `json:"model_used"`
	ModeUsed        string           `json:"mode_used"`
	APIsConsulted   APIsConsulted    `json:"apis_consulted"`
	Signals         []predict.Signal `json:"signals"`
	Recommendations []string         `json:"recommendations"`
	Crawl           *CrawlBlock      `json:"crawl,omitempty"`
	Timestamps      Timestamps       `json:"timestamps"`

	// Per-model scores, persisted with the analysis trace but not part of
	// the response shape.
	MLScore        int `json:"-"`
	HeuristicScore int `json:"-"`
}

// APIsConsulted records which external collaborators returned a usable
// result for this request.
type APIsConsulted struct {
	Tranco     bool `json:"tranco"`
	VirusTotal bool `json:"virustotal"`
	Database   bool `json:"database"`
}

// CrawlBlock is the optional page-inspection section of the verdict.
type CrawlBlock struct {
	Enabled         bool           `json:"enabled"`
	Status          int            `json:"status"`
	FinalURL        string         `json:"final_url"`
	RedirectChain   []string       `json:"redirect_chain"`
	HTMLFingerprint string         `json:"html_fingerprint"`
	Evidence        crawl.Evidence `json:"evidence"`
}

// Timestamps bracket the request.
type Timestamps struct {
	RequestedAt time.Time `json:"requested_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}
