package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/checkpoint"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/config"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/nn"
)

func smokeConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.RunName = "smoke"
	cfg.Synthetic = 4
	cfg.ImageSize = []int{8, 8, 8}
	cfg.PatchSize = []int{4, 4, 4}
	cfg.Epochs = 2
	cfg.ValInterval = 1
	cfg.Hidden = 4
	cfg.Workers = 2
	cfg.LR = 1e-2
	return cfg
}

func TestRunSyntheticSmoke(t *testing.T) {
	t.Setenv("SEGTRAIN_PROGRESSION_FILE", "")
	cfg := smokeConfig(t)
	var stdout bytes.Buffer

	summary, err := Run(context.Background(), cfg, &stdout)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Completed != 2 || summary.RunName != "smoke" || summary.RunID == "" {
		t.Errorf("summary = %+v", summary)
	}

	final := checkpoint.FinalPath(filepath.Join(cfg.OutputDir, CheckpointDir), "smoke", nn.Architecture, 2)
	if summary.FinalCheckpoint != final {
		t.Errorf("final checkpoint = %q, want %q", summary.FinalCheckpoint, final)
	}
	ckpt, err := checkpoint.Load(final)
	if err != nil {
		t.Fatal(err)
	}
	if ckpt.Metadata.Tag != "epoch2" || ckpt.Metadata.RunID != summary.RunID {
		t.Errorf("metadata = %+v", ckpt.Metadata)
	}

	logDir := filepath.Join(cfg.OutputDir, LogDir, "smoke")
	for _, name := range []string{"scalars.csv", "scalars.jsonl", "training_progression.json"} {
		if _, err := os.Stat(filepath.Join(logDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	csv, err := os.ReadFile(filepath.Join(logDir, "scalars.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(csv), "val/kidney dice score") {
		t.Errorf("scalars.csv lacks per-label scores:\n%s", csv)
	}
	if !strings.Contains(stdout.String(), "smoke") {
		t.Errorf("report not printed:\n%s", stdout.String())
	}

	// The run directory now exists; a second run must not reuse it.
	again := smokeConfig(t)
	again.OutputDir = cfg.OutputDir
	again.Overwrite = false
	if _, err := Run(context.Background(), again, &stdout); !errors.Is(err, checkpoint.ErrRunExists) {
		t.Errorf("err = %v, want ErrRunExists", err)
	}
}

func TestRunScopesInterruptToPretrainedFetch(t *testing.T) {
	t.Setenv("SEGTRAIN_PROGRESSION_FILE", "")
	calls := 0
	var fetchCtx context.Context
	prev := interruptible
	interruptible = func(parent context.Context) (context.Context, context.CancelFunc) {
		calls++
		ctx, stop := context.WithCancel(parent)
		fetchCtx = ctx
		return ctx, stop
	}
	t.Cleanup(func() { interruptible = prev })

	base := smokeConfig(t)
	base.Epochs = 1
	first, err := Run(context.Background(), base, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("interrupt handler installed %d times without pretrained weights", calls)
	}

	tuned := smokeConfig(t)
	tuned.OutputDir = base.OutputDir
	tuned.RunName = "finetune"
	tuned.Epochs = 1
	tuned.Pretrained = first.FinalCheckpoint
	if _, err := Run(context.Background(), tuned, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("interrupt handler installed %d times, want 1", calls)
	}
	// stop restores default SIGINT handling for the epoch loop.
	if fetchCtx.Err() == nil {
		t.Error("fetch context still live after the run")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := smokeConfig(t)
	cfg.Epochs = 0
	if _, err := Run(context.Background(), cfg, &bytes.Buffer{}); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}

	cfg = smokeConfig(t)
	cfg.InferDevice = "cuda:0"
	if _, err := Run(context.Background(), cfg, &bytes.Buffer{}); err == nil {
		t.Error("expected error for an unavailable device")
	}
}

func TestDatasetsFromDatalist(t *testing.T) {
	dir := t.TempDir()
	list := `{"training": [{"image": "a.nii", "label": "a_seg.nii"}], "testing": [{"image": "b.nii", "label": "b_seg.nii"}]}`
	path := filepath.Join(dir, "dataset.json")
	if err := os.WriteFile(path, []byte(list), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Datalist = path

	trainDS, valDS, err := Datasets(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if trainDS.Len() != 1 || valDS.Len() != 1 {
		t.Errorf("lens = %d, %d", trainDS.Len(), valDS.Len())
	}
}
