package pipeline

import (
	"context"
	"strings"
	"unicode"

	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/llm"
)

// Completer is the chat completion surface the model stage needs.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

// LLMProcessor answers LLMMessagesFrames. The reply is pushed sentence by
// sentence so synthesis can start before the whole reply is spoken.
type LLMProcessor struct {
	client      Completer
	temperature float64
}

func NewLLMProcessor(c Completer) *LLMProcessor {
	return &LLMProcessor{client: c, temperature: 0.7}
}

func (p *LLMProcessor) Name() string { return "LLMProcessor" }

func (p *LLMProcessor) ProcessFrame(ctx context.Context, f Frame, push PushFunc) error {
	mf, ok := f.(LLMMessagesFrame)
	if !ok {
		return push(ctx, f)
	}
	resp, err := p.client.CreateChatCompletion(ctx, llm.ChatRequest{Messages: mf.Messages, Temperature: p.temperature})
	if err != nil {
		// The session keeps going; the user can simply speak again.
		logging.Errorw("llm completion failed", "err", err, "messages", len(mf.Messages))
		return nil
	}
	logging.Debugw("llm completion", "id", resp.ID, "model", resp.Model, "chars", len(resp.Content))

	if err := push(ctx, LLMResponseStartFrame{}); err != nil {
		return err
	}
	for _, s := range SplitSentences(resp.Content) {
		if err := push(ctx, TextFrame{Text: s}); err != nil {
			return err
		}
	}
	return push(ctx, LLMResponseEndFrame{})
}

// SplitSentences breaks text after '.', '!' or '?' followed by whitespace.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
