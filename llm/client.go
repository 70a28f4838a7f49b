package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 512
	maxTokensCeiling = 4000
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	HTTP          *http.Client
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type ChatResponse struct {
	ID      string `json:"id,omitempty"`
	Model   string `json:"model,omitempty"`
	Content string `json:"content,omitempty"`
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// NewClientFromEnv reads OPENAI_BASE_URL, OPENAI_API_KEY, OPENAI_MODEL,
// OPENAI_FALLBACK_MODEL and LLM_MAX_TOKENS.
func NewClientFromEnv() *Client {
	base := os.Getenv("OPENAI_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultModel
	}
	maxTokens := maxTokensCeiling
	if v, err := strconv.Atoi(os.Getenv("LLM_MAX_TOKENS")); err == nil && v > 0 {
		maxTokens = v
	}
	return &Client{
		BaseURL:       strings.TrimRight(base, "/"),
		APIKey:        os.Getenv("OPENAI_API_KEY"),
		Model:         model,
		FallbackModel: os.Getenv("OPENAI_FALLBACK_MODEL"),
		MaxTokens:     maxTokens,
		HTTP:          &http.Client{Timeout: 20 * time.Second},
	}
}

// CreateChatCompletion sends the conversation and returns the first choice.
// Network errors, 5xx and 429 are transient and retried once against the
// fallback model when one is configured; other 4xx are permanent.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.Model
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	ceiling := c.MaxTokens
	if ceiling <= 0 {
		ceiling = maxTokensCeiling
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if req.MaxTokens > ceiling {
		req.MaxTokens = ceiling
	}

	resp, err := c.send(ctx, req)
	if err != nil && errors.Is(err, ErrTransient) && c.FallbackModel != "" && c.FallbackModel != req.Model && ctx.Err() == nil {
		req.Model = c.FallbackModel
		select {
		case <-ctx.Done():
			return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
		return c.send(ctx, req)
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: marshal: %v", ErrPermanent, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out struct {
			ID      string `json:"id"`
			Choices []struct {
				Message Message `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ChatResponse{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		content := ""
		if len(out.Choices) > 0 {
			content = out.Choices[0].Message.Content
		}
		return ChatResponse{ID: out.ID, Model: req.Model, Content: content}, nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return ChatResponse{}, fmt.Errorf("%w: model %s status %d", ErrTransient, req.Model, resp.StatusCode)
	}
	return ChatResponse{}, fmt.Errorf("%w: model %s status %d", ErrPermanent, req.Model, resp.StatusCode)
}
