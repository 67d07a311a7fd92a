package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Epochs != 100 || cfg.LR != 1e-4 || cfg.ValInterval != 2 || cfg.Seed != 42 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.PatchSize, []int{96, 96, 96}) {
		t.Errorf("patch size = %v", cfg.PatchSize)
	}
	names, err := cfg.LabelNames()
	if err != nil || !reflect.DeepEqual(names, []string{"kidney", "tumor"}) {
		t.Errorf("labels = %v, %v", names, err)
	}
	// Reruns reuse their directory and volumes are re-read every epoch
	// unless the config says otherwise.
	if !cfg.Overwrite || cfg.CacheRate != 0 {
		t.Errorf("overwrite = %v, cache_rate = %v, want true and 0", cfg.Overwrite, cfg.CacheRate)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	yml := `
run_name: kits-small
epochs: 10
patch_size: [32, 32, 32]
image_size: [64, 64, 64]
labels:
  - {name: tumor, index: 2}
  - {name: kidney, index: 1}
early_stopping:
  patience: 3
  on_trigger: stop
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEGTRAIN_EPOCHS", "7")
	t.Setenv("SEGTRAIN_OUTPUT_DIR", dir)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RunName != "kits-small" || cfg.Epochs != 7 || cfg.OutputDir != dir {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.EarlyStopping.Patience != 3 || cfg.EarlyStopping.OnTrigger != "stop" {
		t.Errorf("early stopping = %+v", cfg.EarlyStopping)
	}
	// Unset keys keep their defaults.
	if cfg.EarlyStopping.Polarity != "improvement" || cfg.SWBatchSize != 2 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	names, err := cfg.LabelNames()
	if err != nil || !reflect.DeepEqual(names, []string{"kidney", "tumor"}) {
		t.Errorf("labels = %v, %v", names, err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for an explicit missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("epochs: [1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected parse error")
	}

	t.Setenv("SEGTRAIN_EPOCHS", "many")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric SEGTRAIN_EPOCHS")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Epochs != 100 {
		t.Errorf("epochs = %d", cfg.Epochs)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Synthetic = 4
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"zero val interval", func(c *Config) { c.ValInterval = 0 }},
		{"negative threshold", func(c *Config) { c.EarlyStopping.Threshold = -1 }},
		{"zero patience", func(c *Config) { c.EarlyStopping.Patience = 0 }},
		{"no labels", func(c *Config) { c.Labels = nil }},
		{"duplicate label index", func(c *Config) { c.Labels[1].Index = 1 }},
		{"zero patch dim", func(c *Config) { c.PatchSize = []int{96, 0, 96} }},
		{"rank mismatch", func(c *Config) { c.ImageSize = []int{128, 128} }},
		{"unknown polarity", func(c *Config) { c.EarlyStopping.Polarity = "sideways" }},
		{"unknown action", func(c *Config) { c.EarlyStopping.OnTrigger = "pause" }},
		{"no data source", func(c *Config) { c.Synthetic = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}
