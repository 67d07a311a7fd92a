/*
PURPOSE:
  Scalar telemetry for a run: the SummaryWriter contract and the fan-out
  to TensorBoard events, CSV and JSON Lines under the run's log directory.

REQUIREMENTS:
  User-specified:
  - Scalars are keyed by tag and epoch and are write-only.

  Implementation-discovered:
  - One failing sink must not hide the others; errors are joined.

ARCHITECTURE INTEGRATION:
  - Opened by: internal/engine (OpenRunWriters)
  - Written by: internal/train (Supervisor)

ERROR HANDLING:
  - Open failures close the sinks already opened.
  - AddScalar and Close return the joined errors of every sink.
*/

package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SummaryWriter records scalar telemetry keyed by step.
type SummaryWriter interface {
	AddScalar(tag string, value float64, step int) error
	Close() error
}

// MultiWriter fans every scalar out to all writers.
type MultiWriter struct {
	writers []SummaryWriter
}

// NewMultiWriter combines writers; nil entries are skipped.
func NewMultiWriter(writers ...SummaryWriter) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// AddScalar writes to every writer and joins their errors.
func (m *MultiWriter) AddScalar(tag string, value float64, step int) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.AddScalar(tag, value, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer, even if some fail.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenRunWriters creates the TensorBoard, CSV and NDJSON writers for a run
// under dir. On failure, writers opened so far are closed.
func OpenRunWriters(dir string) (*MultiWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	tb, err := NewTensorBoardWriter(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to init event writer in %s: %w", dir, err)
	}
	csvPath := filepath.Join(dir, "scalars.csv")
	cw, err := NewCSVWriter(csvPath)
	if err != nil {
		tb.Close()
		return nil, fmt.Errorf("failed to init CSV writer at %s: %w", csvPath, err)
	}
	jsonPath := filepath.Join(dir, "scalars.jsonl")
	jw, err := NewJSONWriter(jsonPath)
	if err != nil {
		tb.Close()
		cw.Close()
		return nil, fmt.Errorf("failed to init JSON writer at %s: %w", jsonPath, err)
	}
	return NewMultiWriter(tb, cw, jw), nil
}
