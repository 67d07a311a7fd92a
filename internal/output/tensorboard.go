/*
PURPOSE:
  Writes scalars as TensorBoard event files so runs can be inspected with
  stock TensorBoard.

REQUIREMENTS:
  User-specified:
  - Scalars keyed by epoch under <output>/logs/<run>/.

  Implementation-discovered:
  - An event file is a TFRecord stream: each record is
      uint64 length | uint32 masked crc32c(length) | data | uint32 masked crc32c(data)
    and the first event carries file_version "brain.Event:2".
  - Only three messages are needed (Event, Summary, Summary.Value), so they
    are encoded directly with protowire instead of generated types.

ARCHITECTURE INTEGRATION:
  - Called by: OpenRunWriters
  - Dependencies: google.golang.org/protobuf/encoding/protowire

ERROR HANDLING:
  - Write errors are returned; the file is flushed after every record.
*/

package output

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Event and Summary field numbers from tensorflow/core/util/event.proto
// and tensorflow/core/framework/summary.proto.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2
)

var crc32c = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, crc32c)
	return ((c >> 15) | (c << 17)) + 0xa282ead8
}

// TensorBoardWriter appends scalar summaries to an event file.
type TensorBoardWriter struct {
	path string
	file *os.File
	buf  *bufio.Writer
	mu   sync.Mutex
	now  func() time.Time
}

// NewTensorBoardWriter creates events.out.tfevents.<unix>.<host> in dir.
func NewTensorBoardWriter(dir string) (*TensorBoardWriter, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	name := fmt.Sprintf("events.out.tfevents.%d.%s", time.Now().Unix(), host)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := &TensorBoardWriter{path: path, file: f, buf: bufio.NewWriter(f), now: time.Now}
	var ev []byte
	ev = protowire.AppendTag(ev, eventWallTime, protowire.Fixed64Type)
	ev = protowire.AppendFixed64(ev, math.Float64bits(w.wallTime()))
	ev = protowire.AppendTag(ev, eventFileVersion, protowire.BytesType)
	ev = protowire.AppendString(ev, "brain.Event:2")
	if err := w.writeRecord(ev); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the event file path.
func (w *TensorBoardWriter) Path() string {
	return w.path
}

func (w *TensorBoardWriter) wallTime() float64 {
	return float64(w.now().UnixNano()) / 1e9
}

// AddScalar appends one simple_value summary.
func (w *TensorBoardWriter) AddScalar(tag string, value float64, step int) error {
	var val []byte
	val = protowire.AppendTag(val, valueTag, protowire.BytesType)
	val = protowire.AppendString(val, tag)
	val = protowire.AppendTag(val, valueSimpleValue, protowire.Fixed32Type)
	val = protowire.AppendFixed32(val, math.Float32bits(float32(value)))

	var sum []byte
	sum = protowire.AppendTag(sum, summaryValue, protowire.BytesType)
	sum = protowire.AppendBytes(sum, val)

	var ev []byte
	ev = protowire.AppendTag(ev, eventWallTime, protowire.Fixed64Type)
	ev = protowire.AppendFixed64(ev, math.Float64bits(w.wallTime()))
	ev = protowire.AppendTag(ev, eventStep, protowire.VarintType)
	ev = protowire.AppendVarint(ev, uint64(int64(step)))
	ev = protowire.AppendTag(ev, eventSummary, protowire.BytesType)
	ev = protowire.AppendBytes(ev, sum)

	return w.writeRecord(ev)
}

func (w *TensorBoardWriter) writeRecord(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))

	for _, b := range [][]byte{header[:], data, footer[:]} {
		if _, err := w.buf.Write(b); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the event file.
func (w *TensorBoardWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
