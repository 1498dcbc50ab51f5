// Package fetch retrieves remote files to local paths.
//
// The package defines the Fetcher interface consumed by the artifact pipeline
// and provides an HTTP implementation with bounded retry. Alternate
// implementations (test doubles, object stores) can be substituted through
// the interface.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetries is the number of additional attempts made after a
// retryable failure.
const DefaultRetries = 2

// Fetcher retrieves the bytes at url into the local file dest.
//
// On failure no file is left at dest. Implementations honor ctx for
// cancellation; timeouts are the implementation's concern.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// HTTP is a Fetcher backed by net/http with exponential-backoff retry.
//
// Transport errors and 5xx responses are retried up to the configured count;
// other non-2xx responses fail immediately.
type HTTP struct {
	client  *http.Client
	retries uint64
	logger  *slog.Logger
}

// HTTPOption configures an HTTP fetcher.
type HTTPOption func(*HTTP)

// WithClient sets the underlying HTTP client.
func WithClient(client *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = client
	}
}

// WithRetries sets the number of retries after the initial attempt.
// Zero disables retrying.
func WithRetries(n uint64) HTTPOption {
	return func(h *HTTP) {
		h.retries = n
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		h.logger = logger
	}
}

// NewHTTP creates an HTTP fetcher.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client:  http.DefaultClient,
		retries: DefaultRetries,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) log() *slog.Logger {
	if h.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.logger
}

// Fetch downloads url to dest, replacing any existing file. The download is
// streamed; dest is removed on any failure.
func (h *HTTP) Fetch(ctx context.Context, url, dest string) error {
	op := func() error {
		err := h.fetchOnce(ctx, url, dest)
		if err != nil {
			h.log().Debug("fetch attempt failed", "url", url, "error", err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), h.retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		os.Remove(dest)
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	return nil
}

func (h *HTTP) fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 500 {
			return err
		}
		return backoff.Permanent(err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return backoff.Permanent(err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return backoff.Permanent(err)
	}
	return nil
}
