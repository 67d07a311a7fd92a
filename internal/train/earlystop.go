/*
PURPOSE:
  Early-stopping state for one run. Counts validation scores that beat the
  best (or fail to) and reports when the count reaches patience.

REQUIREMENTS:
  User-specified:
  - Patience, threshold and polarity come from the early_stopping config.
  - The first observation only establishes the best score.
  - Reset clears the counter and the trigger but keeps the best score.

  Implementation-discovered:
  - A NaN score never becomes the best; under stagnation polarity it still
    counts toward patience.
  - Patience below 1 is clamped to 1 and a negative threshold to 0.

ARCHITECTURE INTEGRATION:
  - Constructed by: internal/engine
  - Driven by: Supervisor.Run after every validation epoch

ERROR HANDLING:
  - Only ParsePolarity returns errors (unknown polarity names).
*/

package train

import (
	"fmt"
	"math"
	"strings"
)

// Polarity selects what the early-stopping counter counts.
type Polarity string

const (
	// CountImprovements increments the counter each time the score beats
	// the best by more than the threshold; the trigger marks a run of
	// improvements worth checkpointing.
	CountImprovements Polarity = "improvement"
	// CountStagnation increments the counter on every observation that does
	// not beat the best and resets it on improvement (conventional patience).
	CountStagnation Polarity = "stagnation"
)

// ParsePolarity accepts "improvement" or "stagnation" (case-insensitive).
func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(strings.ToLower(strings.TrimSpace(s))); p {
	case CountImprovements, CountStagnation:
		return p, nil
	case "":
		return CountImprovements, nil
	default:
		return "", fmt.Errorf("unknown early stopping polarity %q", s)
	}
}

// MetricTracker is the early-stopping state of one run.
type MetricTracker struct {
	patience  int
	threshold float64
	polarity  Polarity

	best      float64
	hasBest   bool
	current   float64
	counter   int
	triggered bool
}

// NewMetricTracker creates a tracker. patience below 1 is treated as 1 and a
// negative threshold as 0.
func NewMetricTracker(patience int, threshold float64, polarity Polarity) *MetricTracker {
	if polarity == "" {
		polarity = CountImprovements
	}
	return &MetricTracker{
		patience:  max(patience, 1),
		threshold: max(threshold, 0),
		polarity:  polarity,
	}
}

// Observe feeds one validation score and reports whether the tracker is
// triggered. The first observation only establishes the best score. A NaN
// score never becomes the best and never counts as an improvement.
func (t *MetricTracker) Observe(score float64) bool {
	t.current = score
	if math.IsNaN(score) {
		if t.hasBest && t.polarity == CountStagnation {
			t.counter++
		}
		if t.counter >= t.patience {
			t.triggered = true
		}
		return t.triggered
	}
	if !t.hasBest {
		t.best, t.hasBest = score, true
		return t.triggered
	}

	improved := score-t.best > t.threshold
	switch t.polarity {
	case CountStagnation:
		if improved {
			t.best = score
			t.counter = 0
		} else {
			t.counter++
		}
	default:
		if improved {
			t.best = score
			t.counter++
		}
	}
	if t.counter >= t.patience {
		t.triggered = true
	}
	return t.triggered
}

// Reset clears the counter and the trigger; the best score is kept.
func (t *MetricTracker) Reset() {
	t.counter = 0
	t.triggered = false
}

// Best returns the best score and whether one has been observed.
func (t *MetricTracker) Best() (float64, bool) {
	return t.best, t.hasBest
}

// Current returns the last observed score.
func (t *MetricTracker) Current() float64 {
	return t.current
}

// Counter returns the consecutive count for the configured polarity.
func (t *MetricTracker) Counter() int {
	return t.counter
}

// Triggered reports whether the counter has reached patience since the last Reset.
func (t *MetricTracker) Triggered() bool {
	return t.triggered
}
