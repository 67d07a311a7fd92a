/*
PURPOSE:
  Writes telemetry scalars to a JSON Lines file (NDJSON).

REQUIREMENTS:
  Implementation-discovered:
  - JSON Lines is better for streaming/logging than a single large array (append-friendly).

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (as one SummaryWriter of a MultiWriter)
  - Consumes: internal/model.Scalar

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/json.NewEncoder.
  - Thread-safe.

USAGE:
  w, err := output.NewJSONWriter("scalars.jsonl")
  w.AddScalar("val/mean dice score", 0.8, 2)
  w.Close()
*/

package output

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/model"
)

// JSONWriter handles writing scalars to a JSON Lines file.
type JSONWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter creates a new JSONWriter.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &JSONWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// AddScalar records one value.
func (jw *JSONWriter) AddScalar(tag string, value float64, step int) error {
	return jw.Write(model.Scalar{Step: step, Tag: tag, Value: value, Timestamp: time.Now()})
}

// Write writes a single scalar as a JSON line.
func (jw *JSONWriter) Write(s model.Scalar) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	// encoding/json rejects NaN and Inf; those are written as strings.
	var v any = s.Value
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		v = formatFloat(s.Value)
	}
	return jw.encoder.Encode(struct {
		Step      int       `json:"step"`
		Tag       string    `json:"tag"`
		Value     any       `json:"value"`
		Timestamp time.Time `json:"timestamp"`
	}{s.Step, s.Tag, v, s.Timestamp})
}

// Close closes the underlying file.
func (jw *JSONWriter) Close() error {
	return jw.file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
