/*
PURPOSE:
  Reads Medical Segmentation Decathlon style datalists: a JSON file with
  named sections ("training", "testing", ...) of {image, label} entries.

REQUIREMENTS:
  User-specified:
  - The dataset JSON path is a run parameter.

  Implementation-discovered:
  - Relative paths resolve against the datalist's own directory.
  - Entries may be objects or bare strings (image only); bare strings are
    rejected for segmentation sections since a label is mandatory.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Produces: []Entry for NewVolumeDataset

ERROR HANDLING:
  - Missing file, bad JSON, missing section or missing label return errors.
*/

package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Entry is one image/label pair.
type Entry struct {
	Image string `json:"image"`
	Label string `json:"label"`
}

// LoadDatalist returns the entries of section, with paths made absolute
// relative to the datalist's directory.
func LoadDatalist(path, section string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read datalist %s: %w", path, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse datalist %s: %w", path, err)
	}
	sec, ok := doc[section]
	if !ok {
		return nil, fmt.Errorf("datalist %s has no %q section", path, section)
	}

	var entries []Entry
	if err := json.Unmarshal(sec, &entries); err != nil {
		return nil, fmt.Errorf("datalist %s section %q: %w", path, section, err)
	}

	base := filepath.Dir(path)
	for i := range entries {
		if entries[i].Image == "" || entries[i].Label == "" {
			return nil, fmt.Errorf("datalist %s section %q entry %d: image and label are required", path, section, i)
		}
		entries[i].Image = resolve(base, entries[i].Image)
		entries[i].Label = resolve(base, entries[i].Label)
	}
	return entries, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
