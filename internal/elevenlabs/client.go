// Package elevenlabs is a client for the ElevenLabs speech synthesis and
// instant voice cloning APIs.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terifai/terifai/internal/clone"
	"github.com/terifai/terifai/internal/httpc"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	// DefaultModel is the low-latency English model.
	DefaultModel = "eleven_turbo_v2"
	// outputFormat matches the session working format (16 kHz PCM16 mono).
	outputFormat   = "pcm_16000"
	defaultTimeout = 60 * time.Second
	providerName   = "elevenlabs"
	retryAttempts  = 3
)

// Client talks to the ElevenLabs REST API.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithModel sets the synthesis model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   DefaultModel,
		client:  httpc.NewClient(defaultTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return providerName }

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, contentType string) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, contentType string) ([]byte, error) {
	return httpc.Do(ctx, c.client, httpc.Request{
		Provider:  providerName,
		Operation: op,
		Attempts:  retryAttempts,
		New: func(ctx context.Context) (*http.Request, error) {
			return c.newRequest(ctx, method, path, body, contentType)
		},
	})
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize returns 16 kHz mono PCM16 audio of text spoken by voiceID.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: empty text")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voice id required")
	}
	body, err := json.Marshal(synthesizeRequest{Text: text, ModelID: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesize request: %w", err)
	}
	path := "/text-to-speech/" + url.PathEscape(voiceID) + "?output_format=" + outputFormat
	return c.do(ctx, "synthesize", http.MethodPost, path, body, "application/json")
}

type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

// Clone uploads a WAV sample as a new instant voice and returns its id.
func (c *Client) Clone(ctx context.Context, wav []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="audio_%s.wav"`, uuid.NewString()[:8]))
	h.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := mw.WriteField("name", clone.NewVoiceName()); err != nil {
		return "", err
	}
	if err := mw.WriteField("description", clone.Description); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	// Uploads are not idempotent, so a single attempt.
	payload := buf.Bytes()
	resp, err := httpc.Do(ctx, c.client, httpc.Request{
		Provider:  providerName,
		Operation: "clone",
		Attempts:  1,
		New: func(ctx context.Context) (*http.Request, error) {
			return c.newRequest(ctx, http.MethodPost, "/voices/add", payload, mw.FormDataContentType())
		},
	})
	if err != nil {
		return "", err
	}
	var out addVoiceResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("decode add voice response: %w", err)
	}
	if out.VoiceID == "" {
		return "", errors.New("elevenlabs: add voice response missing voice_id")
	}
	return out.VoiceID, nil
}

// Delete removes a voice from the account.
func (c *Client) Delete(ctx context.Context, voiceID string) error {
	if voiceID == "" {
		return errors.New("elevenlabs: voice id required")
	}
	_, err := c.do(ctx, "delete", http.MethodDelete, "/voices/"+url.PathEscape(voiceID), nil, "")
	return err
}

type listVoicesResponse struct {
	Voices []struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	} `json:"voices"`
}

// List returns every voice visible to the account.
func (c *Client) List(ctx context.Context) ([]clone.Voice, error) {
	resp, err := c.do(ctx, "list", http.MethodGet, "/voices", nil, "")
	if err != nil {
		return nil, err
	}
	var out listVoicesResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	voices := make([]clone.Voice, 0, len(out.Voices))
	for _, v := range out.Voices {
		if v.VoiceID == "" {
			continue
		}
		voices = append(voices, clone.Voice{ID: v.VoiceID, Name: v.Name})
	}
	return voices, nil
}
