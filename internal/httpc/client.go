// Package httpc provides the HTTP client and retry helper shared by every
// provider client (speech, synthesis, cloning, rooms, machines).
package httpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/metrics"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second

	maxErrorBody = 4096
)

// NewClient returns an http.Client with dial, TLS and idle timeouts set.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider  string
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Operation, e.Status, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Request describes one logical provider call. New is invoked once per
// attempt so request bodies can be rebuilt.
type Request struct {
	Provider      string
	Operation     string
	Attempts      int
	CorrelationID string
	New           func(ctx context.Context) (*http.Request, error)
}

// Backoff is the delay before retry i (0-based). Tests shorten it.
var Backoff = func(i int) time.Duration { return time.Duration(200*(1<<i)) * time.Millisecond }

// Do runs r with client, retrying network errors, 5xx and 429 with
// exponential backoff, and returns the body of the first 2xx response.
func Do(ctx context.Context, client *http.Client, r Request) ([]byte, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	start := time.Now()
	var lastErr error
	for i := 0; i < attempts; i++ {
		body, err := doOnce(ctx, client, r)
		if err == nil {
			metrics.RecordProviderRequest(r.Provider, r.Operation, "success", time.Since(start).Seconds())
			return body, nil
		}
		lastErr = err
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		logging.Debugw("provider request attempt failed", "provider", r.Provider, "operation", r.Operation, "attempt", i+1, "err", err, "correlation_id", r.CorrelationID)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				metrics.RecordProviderRequest(r.Provider, r.Operation, "error", time.Since(start).Seconds())
				return nil, ctx.Err()
			case <-time.After(Backoff(i)):
			}
		}
	}
	metrics.RecordProviderRequest(r.Provider, r.Operation, "error", time.Since(start).Seconds())
	return nil, lastErr
}

func doOnce(ctx context.Context, client *http.Client, r Request) ([]byte, error) {
	req, err := r.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", r.Provider, r.Operation, err)
	}
	if r.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", r.CorrelationID)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Provider: r.Provider, Operation: r.Operation, Status: resp.StatusCode, Body: string(b)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", r.Provider, r.Operation, err)
	}
	return body, nil
}
