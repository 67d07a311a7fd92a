/*
PURPOSE:
  Writes telemetry scalars to a CSV file.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - Per-epoch scalars must survive a crash mid-run.

  Implementation-discovered:
  - A fresh run truncates the file; resumes are not supported.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (as one SummaryWriter of a MultiWriter)
  - Consumes: internal/model.Scalar

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).

USAGE:
  w, err := output.NewCSVWriter("scalars.csv")
  w.AddScalar("train/epoch loss", 0.42, 1)
  w.Close()

RELATED FILES:
  - internal/model/types.go
*/

package output

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/model"
)

// CSVWriter handles writing scalars to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"step", "tag", "value", "timestamp"}); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// AddScalar records one value.
func (cw *CSVWriter) AddScalar(tag string, value float64, step int) error {
	return cw.Write(model.Scalar{Step: step, Tag: tag, Value: value, Timestamp: time.Now()})
}

// Write writes a single scalar to the CSV file.
// It is thread-safe.
func (cw *CSVWriter) Write(s model.Scalar) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	record := []string{
		strconv.Itoa(s.Step),
		s.Tag,
		formatFloat(s.Value),
		s.Timestamp.Format(time.RFC3339),
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
