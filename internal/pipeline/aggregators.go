package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/terifai/terifai/llm"
)

// Context is the conversation history shared by the user and assistant
// aggregators of one session.
type Context struct {
	mu       sync.Mutex
	messages []llm.Message
}

// NewContext seeds the history, typically with the session's system prompt.
func NewContext(seed ...llm.Message) *Context {
	return &Context{messages: append([]llm.Message(nil), seed...)}
}

// Append adds a message to the history.
func (c *Context) Append(m llm.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
}

// Messages returns a copy of the history.
func (c *Context) Messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.messages...)
}

// UserAggregator records each transcription as a user turn and asks the
// model stage to respond to the whole history.
type UserAggregator struct {
	ctx *Context
}

func NewUserAggregator(c *Context) *UserAggregator { return &UserAggregator{ctx: c} }

func (a *UserAggregator) Name() string { return "UserAggregator" }

func (a *UserAggregator) ProcessFrame(ctx context.Context, f Frame, push PushFunc) error {
	tf, ok := f.(TranscriptionFrame)
	if !ok {
		return push(ctx, f)
	}
	text := strings.TrimSpace(tf.Text)
	if text == "" {
		return nil
	}
	a.ctx.Append(llm.Message{Role: llm.RoleUser, Content: text})
	return push(ctx, LLMMessagesFrame{Messages: a.ctx.Messages()})
}

// AssistantAggregator sits after the output stage and records what the bot
// actually said. A VoiceChangedFrame adds a system note so the next reply
// can acknowledge the new voice.
type AssistantAggregator struct {
	ctx         *Context
	voiceNotice string
	buf         strings.Builder
}

func NewAssistantAggregator(c *Context, voiceNotice string) *AssistantAggregator {
	return &AssistantAggregator{ctx: c, voiceNotice: voiceNotice}
}

func (a *AssistantAggregator) Name() string { return "AssistantAggregator" }

func (a *AssistantAggregator) ProcessFrame(ctx context.Context, f Frame, push PushFunc) error {
	switch v := f.(type) {
	case LLMResponseStartFrame:
		a.buf.Reset()
	case TextFrame:
		if a.buf.Len() > 0 {
			a.buf.WriteByte(' ')
		}
		a.buf.WriteString(strings.TrimSpace(v.Text))
	case LLMResponseEndFrame:
		a.flush()
	case VoiceChangedFrame:
		if a.voiceNotice != "" {
			a.ctx.Append(llm.Message{Role: llm.RoleSystem, Content: a.voiceNotice})
		}
	case EndFrame, CancelFrame:
		a.flush()
	}
	return push(ctx, f)
}

func (a *AssistantAggregator) flush() {
	if text := strings.TrimSpace(a.buf.String()); text != "" {
		a.ctx.Append(llm.Message{Role: llm.RoleAssistant, Content: text})
	}
	a.buf.Reset()
}
