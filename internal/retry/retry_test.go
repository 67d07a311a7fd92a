package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func fastConfig() Config {
	return Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiple: 2}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), Options{Config: fastConfig(), Name: "test"}, func(attempt int) (string, error) {
		calls++
		if attempt < 2 {
			return "", errFlaky
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	logged := 0
	opts := Options{
		Config: fastConfig(),
		Name:   "download",
		Logger: func(string, ...any) { logged++ },
	}
	_, err := Do(context.Background(), opts, func(int) (int, error) { return 0, errFlaky })

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if ex.Attempts != 3 || !errors.Is(err, errFlaky) {
		t.Errorf("unexpected exhausted error %+v", ex)
	}
	if logged != 2 {
		t.Errorf("logged %d retries, want 2", logged)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("404")
	calls := 0
	opts := Options{
		Config:    fastConfig(),
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}
	_, err := Do(context.Background(), opts, func(int) (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err = %v after %d calls", err, calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fastConfig()
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour
	_, err := Do(ctx, Options{Config: cfg}, func(int) (int, error) { return 0, errFlaky })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDelayCapped(t *testing.T) {
	c := Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second, BackoffMultiple: 2}
	if got := c.delay(0); got != time.Second {
		t.Errorf("delay(0) = %v", got)
	}
	if got := c.delay(5); got != 3*time.Second {
		t.Errorf("delay(5) = %v, want cap", got)
	}
}
