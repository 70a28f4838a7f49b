// Package stt is a client for whisper-compatible transcription servers that
// accept a WAV body and answer with JSON {"text": ...}.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terifai/terifai/internal/httpc"
	"github.com/terifai/terifai/internal/logging"
)

const (
	providerName   = "whisper"
	defaultTimeout = 15 * time.Second
	retryAttempts  = 3
)

// Options are the query parameters understood by the server.
type Options struct {
	Translate      bool
	BeamSize       int
	Language       string
	WordTimestamps bool
}

// Client posts utterances to a whisper endpoint.
type Client struct {
	url       string
	authToken string
	client    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithAuthToken sends a bearer token with every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// New builds a client for endpoint with the given query options applied.
func New(endpoint string, o Options, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("stt: endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("stt: parse endpoint: %w", err)
	}
	q := u.Query()
	if o.Translate {
		q.Set("task", "translate")
	}
	if o.BeamSize > 0 {
		q.Set("beam_size", strconv.Itoa(o.BeamSize))
	}
	if o.Language != "" {
		q.Set("language", o.Language)
	}
	if o.WordTimestamps {
		q.Set("word_timestamps", "1")
	}
	u.RawQuery = q.Encode()

	c := &Client{url: u.String(), client: httpc.NewClient(defaultTimeout)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL is the endpoint with query options applied.
func (c *Client) URL() string { return c.url }

type response struct {
	Text         string `json:"text"`
	ProcessingMs any    `json:"processing_ms"`
}

// Transcribe uploads wav and returns the trimmed transcript. Network errors
// and 5xx responses are retried.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	cid := uuid.NewString()
	start := time.Now()
	body, err := httpc.Do(ctx, c.client, httpc.Request{
		Provider:      providerName,
		Operation:     "transcribe",
		Attempts:      retryAttempts,
		CorrelationID: cid,
		New: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(wav))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "audio/wav")
			if c.authToken != "" {
				req.Header.Set("Authorization", "Bearer "+c.authToken)
			}
			return req, nil
		},
	})
	if err != nil {
		return "", err
	}
	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("stt: decode response: %w", err)
	}
	logging.Debugw("stt response received",
		"correlation_id", cid,
		"bytes", len(wav),
		"stt_latency_ms", time.Since(start).Milliseconds(),
		"stt_server_ms", serverMs(out.ProcessingMs),
	)
	return strings.TrimSpace(out.Text), nil
}

func serverMs(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return 0
}
