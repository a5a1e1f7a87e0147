package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestJSONLAppends(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJSONL(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	rep := Report{URL: "http://bad.example/x", URLHash: HashURL("http://bad.example/x"), Label: "phishing", CreatedAt: now}
	if err := j.SaveReport(ctx, rep); err != nil {
		t.Fatal(err)
	}
	if err := j.SaveReport(ctx, rep); err != nil {
		t.Fatal(err)
	}
	if err := j.SaveIngested(ctx, IngestedURL{URL: "http://bad.example/x", Label: 1, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := j.SaveAnalysis(ctx, AnalysisResult{URL: "http://bad.example/x", Score: 88, RiskLevel: "HIGH", Signals: json.RawMessage("[]"), CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, filepath.Join(dir, "reports.jsonl"))
	if len(lines) != 2 {
		t.Fatalf("reports.jsonl has %d lines, want 2", len(lines))
	}
	var got Report
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatal(err)
	}
	if got.URL != rep.URL || got.Label != "phishing" {
		t.Errorf("decoded report = %+v", got)
	}

	if got := readLines(t, filepath.Join(dir, "ingested_urls.jsonl")); len(got) != 1 {
		t.Errorf("ingested_urls.jsonl has %d lines", len(got))
	}
	if got := readLines(t, filepath.Join(dir, "analysis_results.jsonl")); len(got) != 1 {
		t.Errorf("analysis_results.jsonl has %d lines", len(got))
	}
}

func TestHashURL(t *testing.T) {
	a := HashURL("http://example.com/a")
	if len(a) != 64 {
		t.Errorf("hash length = %d", len(a))
	}
	if a != HashURL("http://example.com/a") {
		t.Error("hash not deterministic")
	}
	if a == HashURL("http://example.com/b") {
		t.Error("distinct URLs collide")
	}
}

func TestOpenSelectsFallback(t *testing.T) {
	st, err := Open("", t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*JSONL); !ok {
		t.Errorf("Open returned %T, want *JSONL", st)
	}

	st, err = Open("", "", zerolog.Nop())
	if err != nil || st != nil {
		t.Errorf("Open with nothing configured = (%v, %v)", st, err)
	}
}
