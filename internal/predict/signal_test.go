package predict

import "testing"

func TestLevelForScore(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{0, LevelSafe},
		{1, LevelLow},
		{30, LevelLow},
		{31, LevelMedium},
		{70, LevelMedium},
		{71, LevelHigh},
		{100, LevelHigh},
	}
	for _, tc := range cases {
		if got := LevelForScore(tc.score); got != tc.want {
			t.Errorf("LevelForScore(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(-5); got != 0 {
		t.Errorf("Clamp(-5) = %d", got)
	}
	if got := Clamp(150); got != 100 {
		t.Errorf("Clamp(150) = %d", got)
	}
	if got := Clamp(42); got != 42 {
		t.Errorf("Clamp(42) = %d", got)
	}
}

func TestSortSignals(t *testing.T) {
	signals := []Signal{
		{ID: "B", Weight: 10},
		{ID: "A", Weight: -35},
		{ID: "C", Weight: 35},
		{ID: "D", Weight: 10},
	}
	SortSignals(signals)
	// Descending absolute weight, ties broken alphabetically.
	want := []string{"A", "C", "B", "D"}
	for i, id := range want {
		if signals[i].ID != id {
			t.Fatalf("position %d: got %s, want %s (order %v)", i, signals[i].ID, id, signals)
		}
	}
}
