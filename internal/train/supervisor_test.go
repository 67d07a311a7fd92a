package train

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func scoresPerCall(means ...float64) func(call int) (float64, []float64, error) {
	return func(call int) (float64, []float64, error) {
		m := means[(call-1)%len(means)]
		return 0.5, []float64{m, m}, nil
	}
}

func TestSupervisorRunContinuesAfterTrigger(t *testing.T) {
	runner := &MockEpochRunner{ValidateFunc: scoresPerCall(0.1, 0.3)}
	saver := &MockSaver{}
	writer := &MockWriter{}
	obs := &MockObserver{}
	cfg := SupervisorConfig{
		RunName:     "kits",
		Epochs:      4,
		ValInterval: 2,
		Labels:      []string{"kidney", "tumor"},
	}
	s, err := NewSupervisor(cfg, runner, NewMetricTracker(1, 0, CountImprovements), saver, writer, obs)
	if err != nil {
		t.Fatal(err)
	}

	summary, err := s.Run(&MockLoader{}, &MockLoader{})
	if err != nil {
		t.Fatal(err)
	}

	if runner.TrainCalls != 4 || runner.ValCalls != 2 {
		t.Errorf("train calls=%d val calls=%d, want 4 and 2", runner.TrainCalls, runner.ValCalls)
	}
	if saver.BestCount != 1 {
		t.Errorf("SaveBest called %d times, want 1", saver.BestCount)
	}
	if len(saver.FinalEpochs) != 1 || saver.FinalEpochs[0] != 4 {
		t.Errorf("SaveFinal calls = %v, want [4]", saver.FinalEpochs)
	}
	if writer.CloseCount != 1 {
		t.Errorf("writer closed %d times, want 1", writer.CloseCount)
	}
	if len(obs.Epochs) != 4 {
		t.Fatalf("observer saw %d epochs, want 4", len(obs.Epochs))
	}
	if !obs.Epochs[3].Triggered || obs.Epochs[1].Triggered {
		t.Errorf("trigger flags = %v, %v", obs.Epochs[1].Triggered, obs.Epochs[3].Triggered)
	}
	if obs.Epochs[0].Validated || !obs.Epochs[1].Validated {
		t.Error("validation should run on even epochs only")
	}
	if got := obs.Epochs[3].Scores["tumor"]; got != 0.3 {
		t.Errorf("tumor score = %v", got)
	}

	if summary.Completed != 4 || summary.Stopped || summary.Triggers != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if !summary.HasBest || summary.BestScore != 0.3 || summary.BestEpoch != 4 {
		t.Errorf("best = %v at %d (has=%v)", summary.BestScore, summary.BestEpoch, summary.HasBest)
	}
	if summary.BestCheckpoint != "best.ckpt" || summary.FinalCheckpoint != "final.ckpt" {
		t.Errorf("checkpoints = %q, %q", summary.BestCheckpoint, summary.FinalCheckpoint)
	}

	var tags []string
	for _, sc := range writer.Scalars {
		if sc.Step%2 != 0 {
			t.Errorf("scalar %q recorded on training-only epoch %d", sc.Tag, sc.Step)
		}
		if sc.Step == 2 {
			tags = append(tags, sc.Tag)
		}
	}
	want := "train/epoch loss,val/epoch loss,val/mean dice score,val/kidney dice score,val/tumor dice score"
	if got := strings.Join(tags, ","); got != want {
		t.Errorf("epoch 2 tags = %q, want %q", got, want)
	}
	if len(writer.Scalars) != 2*5 {
		t.Errorf("recorded %d scalars, want 10", len(writer.Scalars))
	}
}

func TestSupervisorStopOnTrigger(t *testing.T) {
	runner := &MockEpochRunner{ValidateFunc: scoresPerCall(0.2, 0.4, 0.6)}
	saver := &MockSaver{}
	cfg := SupervisorConfig{Epochs: 10, ValInterval: 1, OnTrigger: StopOnTrigger}
	s, err := NewSupervisor(cfg, runner, NewMetricTracker(1, 0, CountImprovements), saver, &MockWriter{})
	if err != nil {
		t.Fatal(err)
	}

	summary, err := s.Run(&MockLoader{}, &MockLoader{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Completed != 2 || !summary.Stopped {
		t.Errorf("completed=%d stopped=%v, want 2 and true", summary.Completed, summary.Stopped)
	}
	// The final checkpoint is tagged with the configured epoch count.
	if len(saver.FinalEpochs) != 1 || saver.FinalEpochs[0] != 10 {
		t.Errorf("SaveFinal calls = %v, want [10]", saver.FinalEpochs)
	}
}

func TestSupervisorErrorStillClosesWriter(t *testing.T) {
	boom := errors.New("out of memory")
	runner := &MockEpochRunner{TrainFunc: func(call int) (float64, error) {
		if call == 2 {
			return 0, boom
		}
		return 1, nil
	}}
	saver := &MockSaver{}
	writer := &MockWriter{}
	s, err := NewSupervisor(SupervisorConfig{Epochs: 3, ValInterval: 1}, runner, NewMetricTracker(1, 0, CountImprovements), saver, writer)
	if err != nil {
		t.Fatal(err)
	}

	summary, err := s.Run(&MockLoader{}, &MockLoader{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if writer.CloseCount != 1 {
		t.Errorf("writer closed %d times, want 1", writer.CloseCount)
	}
	if len(saver.FinalEpochs) != 0 {
		t.Errorf("SaveFinal called after failure: %v", saver.FinalEpochs)
	}
	if summary.Completed != 1 {
		t.Errorf("completed = %d, want 1", summary.Completed)
	}
}

func TestSupervisorSaveBestFailureAborts(t *testing.T) {
	boom := errors.New("read-only filesystem")
	runner := &MockEpochRunner{ValidateFunc: scoresPerCall(0.1, 0.5)}
	saver := &MockSaver{SaveBestFunc: func() (string, error) { return "", boom }}
	s, err := NewSupervisor(SupervisorConfig{Epochs: 5, ValInterval: 1}, runner, NewMetricTracker(1, 0, CountImprovements), saver, &MockWriter{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(&MockLoader{}, &MockLoader{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if runner.TrainCalls != 2 {
		t.Errorf("train calls = %d, want 2", runner.TrainCalls)
	}
}

func TestSupervisorNaNScoreDoesNotBreakRun(t *testing.T) {
	runner := &MockEpochRunner{ValidateFunc: scoresPerCall(math.NaN(), 0.4, 0.2)}
	saver := &MockSaver{}
	s, err := NewSupervisor(SupervisorConfig{Epochs: 3, ValInterval: 1}, runner, NewMetricTracker(1, 0, CountStagnation), saver, &MockWriter{})
	if err != nil {
		t.Fatal(err)
	}
	summary, err := s.Run(&MockLoader{}, &MockLoader{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Completed != 3 {
		t.Errorf("completed = %d", summary.Completed)
	}
	if !summary.HasBest || summary.BestScore != 0.4 || summary.BestEpoch != 2 {
		t.Errorf("best = %v at %d", summary.BestScore, summary.BestEpoch)
	}
}

func TestSupervisorWriterFailuresAreNotFatal(t *testing.T) {
	writer := &MockWriter{AddScalarFunc: func(string, float64, int) error { return errors.New("disk full") }}
	s, err := NewSupervisor(SupervisorConfig{Epochs: 2, ValInterval: 1}, &MockEpochRunner{}, NewMetricTracker(3, 0, CountImprovements), &MockSaver{}, writer)
	if err != nil {
		t.Fatal(err)
	}
	logs := captureLogs(t)
	if _, err := s.Run(&MockLoader{}, &MockLoader{}); err != nil {
		t.Fatalf("writer failures must not abort the run: %v", err)
	}
	if !strings.Contains(logs.String(), "Failed to record scalar") {
		t.Error("expected a warning for failed scalar writes")
	}
}

func TestNewSupervisorValidatesConfig(t *testing.T) {
	tr := NewMetricTracker(1, 0, CountImprovements)
	if _, err := NewSupervisor(SupervisorConfig{Epochs: 0, ValInterval: 1}, &MockEpochRunner{}, tr, &MockSaver{}, &MockWriter{}); err == nil {
		t.Error("expected error for zero epochs")
	}
	if _, err := NewSupervisor(SupervisorConfig{Epochs: 1, ValInterval: 0}, &MockEpochRunner{}, tr, &MockSaver{}, &MockWriter{}); err == nil {
		t.Error("expected error for zero validation interval")
	}
}
