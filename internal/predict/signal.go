package predict

import "sort"

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Signal is one piece of explainable evidence. Negative weights are
// bonifications.
type Signal struct {
	ID          string         `json:"id"`
	Severity    Severity       `json:"severity"`
	Weight      int            `json:"weight"`
	Evidence    map[string]any `json:"evidence"`
	Explanation string         `json:"explanation"`
}

// SortSignals orders by descending |weight|, ties alphabetical on id.
func SortSignals(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		ai, aj := abs(signals[i].Weight), abs(signals[j].Weight)
		if ai != aj {
			return ai > aj
		}
		return signals[i].ID < signals[j].ID
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Level buckets a score: SAFE(0), LOW(1-30), MEDIUM(31-70), HIGH(71-100).
type Level string

const (
	LevelSafe   Level = "SAFE"
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// LevelForScore maps a clamped score to its risk level.
func LevelForScore(score int) Level {
	switch {
	case score <= 0:
		return LevelSafe
	case score <= 30:
		return LevelLow
	case score <= 70:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Clamp bounds a running score to [0,100].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
