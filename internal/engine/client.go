/*
PURPOSE:
  Fetches pretrained weights for a run, from a local checkpoint file or an
  http(s) URL, and loads them into the model parameters.

REQUIREMENTS:
  User-specified:
  - --pretrained accepts a file path or a URL of a checkpoint.

  Implementation-discovered:
  - Needs http.Client with a header timeout distinct from the body timeout
    (large checkpoints stream slowly, dead servers should fail fast).
  - Transient failures (network errors, 5xx, 429) are retried with
    exponential backoff, as is a body cut off mid-read. Other 4xx responses
    and a full body that fails to decode are not.

ARCHITECTURE INTEGRATION:
  - Called by: engine.Run
  - Uses: internal/checkpoint, internal/retry, internal/output

ERROR HANDLING:
  - Returns retry.ExhaustedError when every attempt failed.
  - Shape or name mismatches from Apply are returned as-is.

USAGE:
  f := engine.NewFetcher(30 * time.Second)
  err := f.LoadPretrained(ctx, "https://host/weights.ckpt", net.Parameters())
*/

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/checkpoint"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/output"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/retry"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// Fetcher downloads or reads checkpoints.
type Fetcher struct {
	Client *http.Client
	Retry  retry.Config
}

// NewFetcher creates a Fetcher whose transport waits at most headerTimeout
// for the response headers.
func NewFetcher(headerTimeout time.Duration) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	return &Fetcher{
		Client: &http.Client{Transport: transport},
		Retry:  retry.DefaultConfig(),
	}
}

// statusError is a non-200 response.
type statusError struct {
	url    string
	status string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: bad status: %s", e.url, e.status)
}

// decodeError is a complete body that is not a checkpoint.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	var de *decodeError
	if errors.As(err, &de) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Fetch returns the checkpoint at src.
func (f *Fetcher) Fetch(ctx context.Context, src string) (*checkpoint.Checkpoint, error) {
	if !isURL(src) {
		return checkpoint.Load(src)
	}

	opts := retry.Options{
		Config:    f.Retry,
		Retryable: retryable,
		Logger:    output.Logger.Warn,
		Name:      "fetch pretrained weights",
	}
	return retry.Do(ctx, opts, func(attempt int) (*checkpoint.Checkpoint, error) {
		return f.download(ctx, src, attempt)
	})
}

func (f *Fetcher) download(ctx context.Context, url string, attempt int) (*checkpoint.Checkpoint, error) {
	trace := &httptrace.ClientTrace{
		GotConn: func(connInfo httptrace.GotConnInfo) {
			output.Logger.Debug("Network: Connected", "remote", connInfo.Conn.RemoteAddr(), "reused", connInfo.Reused)
		},
		GotFirstResponseByte: func() {
			output.Logger.Debug("Network: First Byte Received", "url", url, "attempt", attempt+1)
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		if strings.Contains(err.Error(), "awaiting headers") {
			return nil, fmt.Errorf("header timeout: %w", err)
		}
		return nil, fmt.Errorf("network/connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{url: url, status: resp.Status, code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	ckpt, err := checkpoint.Decode(bytes.NewReader(body), url)
	if err != nil {
		return nil, &decodeError{err: err}
	}
	return ckpt, nil
}

// LoadPretrained fetches src and copies its weights into params.
func (f *Fetcher) LoadPretrained(ctx context.Context, src string, params []*tensor.Parameter) error {
	start := time.Now()
	ckpt, err := f.Fetch(ctx, src)
	if err != nil {
		return fmt.Errorf("loading pretrained weights from %s: %w", src, err)
	}
	if err := ckpt.Apply(params); err != nil {
		return fmt.Errorf("applying pretrained weights from %s: %w", src, err)
	}
	output.Logger.Info("Loaded pretrained weights",
		"source", src,
		"run", ckpt.Metadata.RunName,
		"tag", ckpt.Metadata.Tag,
		"duration", time.Since(start),
	)
	return nil
}
