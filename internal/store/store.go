package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// IngestedURL is one labeled training sample accepted over /ingest.
type IngestedURL struct {
	URL        string    `json:"url"`
	URLHash    string    `json:"url_hash"`
	Label      int       `json:"label"`
	Source     string    `json:"source,omitempty"`
	RawPayload string    `json:"raw_payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Report is one user-submitted abuse report accepted over /report.
type Report struct {
	URL       string    `json:"url"`
	URLHash   string    `json:"url_hash"`
	Label     string    `json:"label"`
	Comment   string    `json:"comment,omitempty"`
	Contact   string    `json:"contact,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisResult is the persisted trace of one verdict.
type AnalysisResult struct {
	URL               string          `json:"url"`
	URLHash           string          `json:"url_hash"`
	Score             int             `json:"score"`
	RiskLevel         string          `json:"risk_level"`
	Signals           json.RawMessage `json:"signals"`
	MLScore           int             `json:"ml_score"`
	HeuristicScore    int             `json:"heuristic_score"`
	TrancoVerified    bool            `json:"tranco_verified"`
	VirusTotalChecked bool            `json:"virustotal_checked"`
	DurationMs        int64           `json:"duration_ms"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Store accepts append-like writes. The engine treats all implementations
// identically; write failures are logged, never surfaced to clients.
type Store interface {
	SaveIngested(ctx context.Context, rec IngestedURL) error
	SaveReport(ctx context.Context, rec Report) error
	SaveAnalysis(ctx context.Context, rec AnalysisResult) error
	Close() error
}

// HashURL returns the sha256 hex digest used as url_hash in every record.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Open selects the implementation: Postgres when databaseURL is set, the
// JSONL append fallback under fallbackDir otherwise. Empty both means no
// persistence.
func Open(databaseURL, fallbackDir string, log zerolog.Logger) (Store, error) {
	if databaseURL != "" {
		return OpenPostgres(databaseURL, log)
	}
	if fallbackDir != "" {
		return OpenJSONL(fallbackDir, log)
	}
	return nil, nil
}
