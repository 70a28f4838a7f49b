// Package cartesia is a client for the Cartesia synthesis and voice
// cloning APIs.
package cartesia

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

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/clone"
	"github.com/terifai/terifai/internal/httpc"
)

const (
	defaultBaseURL = "https://api.cartesia.ai"
	apiVersion     = "2024-06-10"
	// DefaultModel is the English Sonic model.
	DefaultModel = "sonic-english"
	// DefaultVoiceID is the stock voice used until a clone is ready.
	DefaultVoiceID = "e00d0e4c-a5c8-443f-a8a3-473eb9a62355"

	defaultTimeout = 30 * time.Second
	providerName   = "cartesia"
	retryAttempts  = 3
)

// Client talks to the Cartesia REST API.
type Client struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	client   *http.Client
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
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		model:    DefaultModel,
		language: "en",
		client:   httpc.NewClient(defaultTimeout),
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
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", apiVersion)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, contentType string, attempts int) ([]byte, error) {
	return httpc.Do(ctx, c.client, httpc.Request{
		Provider:  providerName,
		Operation: op,
		Attempts:  attempts,
		New: func(ctx context.Context) (*http.Request, error) {
			return c.newRequest(ctx, method, path, body, contentType)
		},
	})
}

type ttsRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceConfig  `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
}

type voiceConfig struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// Synthesize returns raw 16 kHz mono PCM16 audio of text spoken by voiceID.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("cartesia: empty text")
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	body, err := json.Marshal(ttsRequest{
		ModelID:    c.model,
		Transcript: text,
		Voice:      voiceConfig{Mode: "id", ID: voiceID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: audio.SampleRate,
		},
		Language: c.language,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	return c.do(ctx, "synthesize", http.MethodPost, "/tts/bytes", body, "application/json", retryAttempts)
}

type clipResponse struct {
	Embedding []float64 `json:"embedding"`
}

type createVoiceRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Embedding   []float64 `json:"embedding"`
	Language    string    `json:"language"`
}

type voiceResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Clone derives a voice embedding from the WAV clip and registers it as a
// new voice, returning the voice id.
func (c *Client) Clone(ctx context.Context, wav []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="clip"; filename="audio_%s.wav"`, uuid.NewString()[:8]))
	h.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := mw.WriteField("enhance", "true"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := c.do(ctx, "clone_clip", http.MethodPost, "/voices/clone/clip", buf.Bytes(), mw.FormDataContentType(), retryAttempts)
	if err != nil {
		return "", err
	}
	var clip clipResponse
	if err := json.Unmarshal(resp, &clip); err != nil {
		return "", fmt.Errorf("decode clip response: %w", err)
	}
	if len(clip.Embedding) == 0 {
		return "", errors.New("cartesia: clip response missing embedding")
	}

	body, err := json.Marshal(createVoiceRequest{
		Name:        clone.NewVoiceName(),
		Description: clone.Description,
		Embedding:   clip.Embedding,
		Language:    c.language,
	})
	if err != nil {
		return "", fmt.Errorf("marshal create voice request: %w", err)
	}
	// Creating a voice is not idempotent, so a single attempt.
	resp, err = c.do(ctx, "create_voice", http.MethodPost, "/voices/", body, "application/json", 1)
	if err != nil {
		return "", err
	}
	var voice voiceResponse
	if err := json.Unmarshal(resp, &voice); err != nil {
		return "", fmt.Errorf("decode create voice response: %w", err)
	}
	if voice.ID == "" {
		return "", errors.New("cartesia: create voice response missing id")
	}
	return voice.ID, nil
}

// Delete removes a voice. The stock default voice is never deleted.
func (c *Client) Delete(ctx context.Context, voiceID string) error {
	if voiceID == "" {
		return errors.New("cartesia: voice id required")
	}
	if voiceID == DefaultVoiceID {
		return nil
	}
	_, err := c.do(ctx, "delete", http.MethodDelete, "/voices/"+url.PathEscape(voiceID), nil, "", retryAttempts)
	return err
}

// List returns the voices visible to the account.
func (c *Client) List(ctx context.Context) ([]clone.Voice, error) {
	resp, err := c.do(ctx, "list", http.MethodGet, "/voices/", nil, "", retryAttempts)
	if err != nil {
		return nil, err
	}
	var out []voiceResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	voices := make([]clone.Voice, 0, len(out))
	for _, v := range out {
		if v.ID == "" {
			continue
		}
		voices = append(voices, clone.Voice{ID: v.ID, Name: v.Name})
	}
	return voices, nil
}
