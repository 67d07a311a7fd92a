/*
PURPOSE:
  Persists model parameters under deterministic, run-scoped paths:
    <dir>/<run>/<arch>_<run>_bestmodel.ckpt
    <dir>/<run>/<arch>_epoch<N>_<run>.ckpt
  and loads them back for pretrained starts.

REQUIREMENTS:
  User-specified:
  - A "best" checkpoint on every early-stopping trigger, a final one tagged
    with the epoch count at the end of the run.
  - The same run name and epoch count always produce the same paths.

  Implementation-discovered:
  - Files are written to a temp file and renamed so a crash mid-save never
    leaves a truncated checkpoint behind the final name.
  - Reusing a run directory is refused unless overwrite is set.
  - Non-finite weights are stored as strings; numeric blow-ups must not
    cost the run its final checkpoint.

ARCHITECTURE INTEGRATION:
  - Called by: internal/train (Supervisor via CheckpointSaver), internal/engine
  - Uses: internal/tensor, github.com/google/uuid

ERROR HANDLING:
  - All filesystem and encoding errors are wrapped with the target path.
*/

package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

const formatVersion = "1.0.0"

// ErrRunExists is returned by Prepare when the run directory already exists
// and overwriting is disabled.
var ErrRunExists = errors.New("run directory already exists")

// Checkpoint is the serialized model state.
type Checkpoint struct {
	Weights  []WeightTensor `json:"weights"`
	Metadata Metadata       `json:"metadata"`
}

// WeightTensor is one named parameter.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  Values `json:"data"`
}

// Values holds parameter data. Non-finite entries are written as the
// strings "NaN", "+Inf" and "-Inf" so a diverged model can still be saved.
type Values []float32

// MarshalJSON implements json.Marshaler.
func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, 2+len(v)*12)
	buf = append(buf, '[')
	for i, x := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		f := float64(x)
		switch {
		case math.IsNaN(f):
			buf = append(buf, `"NaN"`...)
		case math.IsInf(f, 1):
			buf = append(buf, `"+Inf"`...)
		case math.IsInf(f, -1):
			buf = append(buf, `"-Inf"`...)
		default:
			buf = strconv.AppendFloat(buf, f, 'g', -1, 32)
		}
	}
	return append(buf, ']'), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Values) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = nil
		return nil
	}
	out := make(Values, len(raw))
	for i, r := range raw {
		text := string(r)
		if len(r) > 0 && r[0] == '"' {
			if err := json.Unmarshal(r, &text); err != nil {
				return err
			}
		}
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return fmt.Errorf("weight %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// Metadata describes where a checkpoint came from.
type Metadata struct {
	Version      string    `json:"version"`
	RunID        string    `json:"run_id"`
	RunName      string    `json:"run_name"`
	Architecture string    `json:"architecture"`
	Tag          string    `json:"tag"`
	CreatedAt    time.Time `json:"created_at"`
}

// BestPath returns the best-model checkpoint path for a run.
func BestPath(dir, run, arch string) string {
	return filepath.Join(dir, run, fmt.Sprintf("%s_%s_bestmodel.ckpt", arch, run))
}

// FinalPath returns the end-of-training checkpoint path for a run.
func FinalPath(dir, run, arch string, epochs int) string {
	return filepath.Join(dir, run, fmt.Sprintf("%s_epoch%d_%s.ckpt", arch, epochs, run))
}

// Store saves checkpoints of a fixed parameter set for one run.
type Store struct {
	dir    string
	run    string
	arch   string
	runID  string
	params []*tensor.Parameter
}

// NewStore creates a store writing under dir/run.
func NewStore(dir, run, arch string, params []*tensor.Parameter) *Store {
	return &Store{
		dir:    dir,
		run:    run,
		arch:   arch,
		runID:  uuid.NewString(),
		params: params,
	}
}

// RunID returns the unique identifier stamped into every checkpoint of this store.
func (s *Store) RunID() string {
	return s.runID
}

// Prepare creates the run directory.
func (s *Store) Prepare(overwrite bool) error {
	runDir := filepath.Join(s.dir, s.run)
	if _, err := os.Stat(runDir); err == nil && !overwrite {
		return fmt.Errorf("%s: %w", runDir, ErrRunExists)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.MkdirAll(runDir, 0755)
}

// SaveBest writes the best-model checkpoint and returns its path.
func (s *Store) SaveBest() (string, error) {
	path := BestPath(s.dir, s.run, s.arch)
	return path, s.save(path, "bestmodel")
}

// SaveFinal writes the end-of-training checkpoint and returns its path.
func (s *Store) SaveFinal(epochs int) (string, error) {
	path := FinalPath(s.dir, s.run, s.arch, epochs)
	return path, s.save(path, fmt.Sprintf("epoch%d", epochs))
}

func (s *Store) save(path, tag string) error {
	ckpt := &Checkpoint{
		Weights: make([]WeightTensor, len(s.params)),
		Metadata: Metadata{
			Version:      formatVersion,
			RunID:        s.runID,
			RunName:      s.run,
			Architecture: s.arch,
			Tag:          tag,
			CreatedAt:    time.Now().UTC(),
		},
	}
	for i, p := range s.params {
		ckpt.Weights[i] = WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Value.Shape...),
			Data:  p.Value.Data,
		}
	}
	return Save(ckpt, path)
}

// Save writes ckpt to path atomically.
func Save(ckpt *Checkpoint, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(ckpt); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode checkpoint %s: %w", path, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

// Load reads a checkpoint file.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer f.Close()
	return Decode(f, path)
}

// Decode parses a checkpoint from r; name is used in error messages.
func Decode(r io.Reader, name string) (*Checkpoint, error) {
	var ckpt Checkpoint
	if err := json.NewDecoder(r).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", name, err)
	}
	return &ckpt, nil
}

// Apply copies the checkpoint weights into params, matched by name. Every
// parameter must be present with the same shape.
func (c *Checkpoint) Apply(params []*tensor.Parameter) error {
	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}
	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no weights for %s", p.Name)
		}
		if !tensor.ShapeEqual(w.Shape, p.Value.Shape) || len(w.Data) != len(p.Value.Data) {
			return fmt.Errorf("checkpoint %s has shape %v, model expects %v", p.Name, w.Shape, p.Value.Shape)
		}
		copy(p.Value.Data, w.Data)
	}
	return nil
}
