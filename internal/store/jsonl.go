package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// JSONL is the fallback Store: one append-only JSON-lines file per record
// kind under a directory. Used when no DATABASE_URL is configured.
type JSONL struct {
	dir string
	log zerolog.Logger

	mu sync.Mutex
}

// OpenJSONL creates the directory if needed.
func OpenJSONL(dir string, log zerolog.Logger) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback dir: %w", err)
	}
	return &JSONL{dir: dir, log: log}, nil
}

func (j *JSONL) appendRecord(kind string, v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(j.dir, kind+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(v)
}

func (j *JSONL) SaveIngested(_ context.Context, rec IngestedURL) error {
	return j.appendRecord("ingested_urls", rec)
}

func (j *JSONL) SaveReport(_ context.Context, rec Report) error {
	return j.appendRecord("reports", rec)
}

func (j *JSONL) SaveAnalysis(_ context.Context, rec AnalysisResult) error {
	return j.appendRecord("analysis_results", rec)
}

func (j *JSONL) Close() error {
	return nil
}
