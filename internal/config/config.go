/*
PURPOSE:
  Defines the training configuration and its loading logic.
  Adheres to "Config IS Code" philosophy: every tunable lives in Config.

REQUIREMENTS:
  User-specified:
  - Epochs, learning rate, validation interval, samples per volume,
    sliding-window batch count, patch and image size, inference device,
    label names and the early-stopping settings.
  - Loaded once at startup, read-only afterwards.

  Implementation-discovered:
  - YAML file, searched in the working directory when no path is given.
  - SEGTRAIN_* environment variables override file values (.env is loaded
    by main before this runs).

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine
  - Dependencies: gopkg.in/yaml.v3

ERROR HANDLING:
  - Returns an explicit error if the config file is unreadable or invalid.
  - A missing default file is not an error; defaults are used.
  - Validate wraps ErrInvalid.

USAGE:
  cfg, err := config.Load("seg_trainer.yaml")

RELATED FILES:
  - internal/cli/train.go (flag overrides)
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// DefaultFiles are searched in order when Load is called without a path.
var DefaultFiles = []string{"seg_trainer.yaml", "trainer.yaml"}

// Label maps a class index in the label volumes to a display name.
type Label struct {
	Name  string `yaml:"name"`
	Index int    `yaml:"index"`
}

// EarlyStopping configures the metric tracker and what happens on a trigger.
type EarlyStopping struct {
	Patience  int     `yaml:"patience"`
	Threshold float64 `yaml:"threshold"`
	// Polarity is "improvement" or "stagnation".
	Polarity string `yaml:"polarity"`
	// OnTrigger is "continue" or "stop".
	OnTrigger string `yaml:"on_trigger"`
}

// Config represents the full configuration of a training run.
type Config struct {
	RunName     string  `yaml:"run_name"`
	OutputDir   string  `yaml:"output_dir"`
	Overwrite   bool    `yaml:"overwrite"`
	Epochs      int     `yaml:"epochs"`
	LR          float64 `yaml:"lr"`
	WeightDecay float64 `yaml:"weight_decay"`
	ValInterval int     `yaml:"val_interval"`
	NumSamples  int     `yaml:"num_samples"`
	SWBatchSize int     `yaml:"sw_batch_size"`
	BatchSize   int     `yaml:"batch_size"`
	PatchSize   []int   `yaml:"patch_size"`
	ImageSize   []int   `yaml:"image_size"`
	InferDevice string  `yaml:"infer_device"`
	Device      string  `yaml:"device"`
	AMP         bool    `yaml:"amp"`
	Labels      []Label `yaml:"labels"`
	Seed        uint64  `yaml:"seed"`
	Workers     int     `yaml:"workers"`
	Hidden      int     `yaml:"hidden"`
	CacheRate   float64 `yaml:"cache_rate"`

	// Datalist is a Decathlon-style JSON file; ignored when Synthetic is set.
	Datalist  string `yaml:"datalist"`
	Synthetic int    `yaml:"synthetic"`
	// Pretrained is a checkpoint path or http(s) URL loaded before training.
	Pretrained string `yaml:"pretrained"`

	EarlyStopping EarlyStopping `yaml:"early_stopping"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:   ".",
		Overwrite:   true,
		Epochs:      100,
		LR:          1e-4,
		WeightDecay: 1e-5,
		ValInterval: 2,
		NumSamples:  2,
		SWBatchSize: 2,
		BatchSize:   1,
		PatchSize:   []int{96, 96, 96},
		ImageSize:   []int{128, 256, 256},
		InferDevice: "cpu",
		Device:      "cpu",
		AMP:         true,
		Labels:      []Label{{Name: "kidney", Index: 1}, {Name: "tumor", Index: 2}},
		Seed:        42,
		Workers:     4,
		Hidden:      16,
		CacheRate:   0,
		EarlyStopping: EarlyStopping{
			Patience:  1,
			Threshold: 0,
			Polarity:  "improvement",
			OnTrigger: "continue",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches DefaultFiles in order.
// If no file is found, the defaults are used. Environment overrides are
// applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if path != "" {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SEGTRAIN_RUN_NAME", &c.RunName)
	str("SEGTRAIN_OUTPUT_DIR", &c.OutputDir)
	str("SEGTRAIN_INFER_DEVICE", &c.InferDevice)
	str("SEGTRAIN_DATALIST", &c.Datalist)
	str("SEGTRAIN_PRETRAINED", &c.Pretrained)

	if v, ok := lookup("SEGTRAIN_EPOCHS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SEGTRAIN_EPOCHS=%q: %w", v, err)
		}
		c.Epochs = n
	}
	return nil
}

// Validate checks the values a run cannot start without.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Epochs < 1 {
		bad("epochs must be at least 1, got %d", c.Epochs)
	}
	if c.ValInterval < 1 {
		bad("val_interval must be at least 1, got %d", c.ValInterval)
	}
	if c.LR <= 0 {
		bad("lr must be positive, got %g", c.LR)
	}
	if c.NumSamples < 1 || c.SWBatchSize < 1 || c.BatchSize < 1 {
		bad("num_samples, sw_batch_size and batch_size must be at least 1")
	}
	if len(c.PatchSize) == 0 || slices.ContainsFunc(c.PatchSize, func(d int) bool { return d < 1 }) {
		bad("patch_size must have positive dimensions, got %v", c.PatchSize)
	}
	if len(c.ImageSize) != len(c.PatchSize) || slices.ContainsFunc(c.ImageSize, func(d int) bool { return d < 1 }) {
		bad("image_size %v must be positive with the same rank as patch_size %v", c.ImageSize, c.PatchSize)
	}
	if c.EarlyStopping.Patience < 1 {
		bad("early_stopping.patience must be at least 1, got %d", c.EarlyStopping.Patience)
	}
	if c.EarlyStopping.Threshold < 0 {
		bad("early_stopping.threshold must not be negative, got %g", c.EarlyStopping.Threshold)
	}
	switch strings.ToLower(c.EarlyStopping.Polarity) {
	case "", "improvement", "stagnation":
	default:
		bad("early_stopping.polarity must be improvement or stagnation, got %q", c.EarlyStopping.Polarity)
	}
	switch strings.ToLower(c.EarlyStopping.OnTrigger) {
	case "", "continue", "stop":
	default:
		bad("early_stopping.on_trigger must be continue or stop, got %q", c.EarlyStopping.OnTrigger)
	}
	if len(c.Labels) == 0 {
		bad("at least one label is required")
	} else if _, err := c.LabelNames(); err != nil {
		errs = append(errs, err)
	}
	if c.Datalist == "" && c.Synthetic < 1 {
		bad("either datalist or synthetic must be set")
	}
	return errors.Join(errs...)
}

// LabelNames returns the label names ordered by class index. Indices must
// cover 1..len(Labels) exactly once.
func (c *Config) LabelNames() ([]string, error) {
	names := make([]string, len(c.Labels))
	for _, l := range c.Labels {
		if l.Index < 1 || l.Index > len(c.Labels) {
			return nil, fmt.Errorf("%w: label %q has index %d, want 1..%d", ErrInvalid, l.Name, l.Index, len(c.Labels))
		}
		if names[l.Index-1] != "" {
			return nil, fmt.Errorf("%w: label index %d used twice", ErrInvalid, l.Index)
		}
		if l.Name == "" {
			return nil, fmt.Errorf("%w: label %d has no name", ErrInvalid, l.Index)
		}
		names[l.Index-1] = l.Name
	}
	return names, nil
}
