package train

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestMetricTrackerObserve(t *testing.T) {
	tests := []struct {
		name      string
		patience  int
		threshold float64
		polarity  Polarity
		scores    []float64
		want      []bool
	}{
		{
			name:     "improvements reach patience on third score",
			patience: 2,
			polarity: CountImprovements,
			scores:   []float64{0.1, 0.3, 0.5},
			want:     []bool{false, false, true},
		},
		{
			name:     "flat scores never trigger improvement counter",
			patience: 1,
			polarity: CountImprovements,
			scores:   []float64{0.4, 0.4, 0.4},
			want:     []bool{false, false, false},
		},
		{
			name:      "threshold is strict",
			patience:  1,
			threshold: 0.1,
			polarity:  CountImprovements,
			scores:    []float64{0.5, 0.55, 0.6, 0.65},
			want:      []bool{false, false, false, true},
		},
		{
			name:     "stagnation counts non-improving epochs",
			patience: 2,
			polarity: CountStagnation,
			scores:   []float64{0.5, 0.4, 0.45},
			want:     []bool{false, false, true},
		},
		{
			name:     "stagnation counter resets on improvement",
			patience: 2,
			polarity: CountStagnation,
			scores:   []float64{0.5, 0.4, 0.6, 0.55},
			want:     []bool{false, false, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewMetricTracker(tt.patience, tt.threshold, tt.polarity)
			for i, s := range tt.scores {
				if got := tr.Observe(s); got != tt.want[i] {
					t.Fatalf("observation %d (%v): triggered = %v, want %v", i+1, s, got, tt.want[i])
				}
			}
		})
	}
}

func TestMetricTrackerFirstObservationSetsBest(t *testing.T) {
	tr := NewMetricTracker(1, 0, CountImprovements)
	if _, ok := tr.Best(); ok {
		t.Fatal("best defined before any observation")
	}
	if tr.Observe(0.9) {
		t.Fatal("first observation triggered")
	}
	if best, ok := tr.Best(); !ok || best != 0.9 {
		t.Errorf("best = %v, %v", best, ok)
	}
}

func TestMetricTrackerReset(t *testing.T) {
	tr := NewMetricTracker(2, 0, CountImprovements)
	for _, s := range []float64{0.1, 0.3, 0.5} {
		tr.Observe(s)
	}
	if !tr.Triggered() {
		t.Fatal("expected trigger")
	}
	tr.Reset()
	if tr.Triggered() || tr.Counter() != 0 {
		t.Errorf("after reset: triggered=%v counter=%d", tr.Triggered(), tr.Counter())
	}
	if best, _ := tr.Best(); best != 0.5 {
		t.Errorf("reset changed best to %v", best)
	}
	if tr.Observe(0.6) {
		t.Error("one improvement after reset should not reach patience 2")
	}
	if !tr.Observe(0.7) {
		t.Error("second improvement after reset should trigger")
	}
}

func TestMetricTrackerTriggersExactlyAtPatience(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	for trial := 0; trial < 200; trial++ {
		patience := 1 + rng.IntN(4)
		tr := NewMetricTracker(patience, 0, CountImprovements)
		for i := 0; i < 20; i++ {
			got := tr.Observe(rng.Float64())
			if got != (tr.Counter() >= patience) {
				t.Fatalf("trial %d: triggered=%v with counter %d, patience %d", trial, got, tr.Counter(), patience)
			}
			if got && rng.IntN(2) == 0 {
				best, _ := tr.Best()
				tr.Reset()
				if b, _ := tr.Best(); b != best || tr.Triggered() || tr.Counter() != 0 {
					t.Fatalf("trial %d: reset left best=%v triggered=%v counter=%d", trial, b, tr.Triggered(), tr.Counter())
				}
			}
		}
	}
}

func TestParsePolarityAndAction(t *testing.T) {
	if p, err := ParsePolarity(" Stagnation "); err != nil || p != CountStagnation {
		t.Errorf("ParsePolarity = %v, %v", p, err)
	}
	if p, _ := ParsePolarity(""); p != CountImprovements {
		t.Errorf("default polarity = %v", p)
	}
	if _, err := ParsePolarity("down"); err == nil {
		t.Error("expected error for unknown polarity")
	}
	if a, err := ParseTriggerAction("STOP"); err != nil || a != StopOnTrigger {
		t.Errorf("ParseTriggerAction = %v, %v", a, err)
	}
	if _, err := ParseTriggerAction("pause"); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestMetricTrackerIgnoresNaN(t *testing.T) {
	tr := NewMetricTracker(1, 0, CountImprovements)
	tr.Observe(math.NaN())
	if _, ok := tr.Best(); ok {
		t.Fatal("NaN became the best score")
	}
	tr.Observe(0.2)
	if tr.Observe(math.NaN()) {
		t.Error("NaN counted as an improvement")
	}
	if !tr.Observe(0.3) {
		t.Error("improvement after NaN should trigger")
	}

	st := NewMetricTracker(1, 0, CountStagnation)
	st.Observe(0.5)
	if !st.Observe(math.NaN()) {
		t.Error("NaN should count as stagnation")
	}
}
