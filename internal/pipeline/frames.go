// Package pipeline runs a session as an ordered chain of frame processors,
// one goroutine per stage.
package pipeline

import (
	"fmt"
	"time"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/llm"
)

// Frame is a unit of data or control flowing downstream.
type Frame interface {
	FrameName() string
}

// StartFrame is the first frame every stage sees.
type StartFrame struct{}

// AudioRawFrame is audio captured from the room.
type AudioRawFrame struct{ audio.Chunk }

// CapturedAudioFrame carries room audio past the speech-to-text stage so
// later stages can sample the user's voice.
type CapturedAudioFrame struct{ audio.Chunk }

// TranscriptionFrame is recognized user speech.
type TranscriptionFrame struct {
	Text      string
	UserID    string
	Timestamp time.Time
}

// LLMMessagesFrame asks the language model stage to run on Messages.
type LLMMessagesFrame struct {
	Messages []llm.Message
}

// LLMResponseStartFrame and LLMResponseEndFrame bracket one model reply.
type LLMResponseStartFrame struct{}
type LLMResponseEndFrame struct{}

// TextFrame is assistant text to be spoken.
type TextFrame struct{ Text string }

// TTSAudioFrame is synthesized speech for the room.
type TTSAudioFrame struct{ audio.Chunk }

// VoiceChangedFrame announces that synthesis switched to a new voice.
type VoiceChangedFrame struct {
	Provider string
	VoiceID  string
}

// EndFrame ends the session after everything queued before it.
type EndFrame struct{}

// CancelFrame ends the session immediately.
type CancelFrame struct{ Reason string }

func (StartFrame) FrameName() string            { return "StartFrame" }
func (AudioRawFrame) FrameName() string         { return "AudioRawFrame" }
func (CapturedAudioFrame) FrameName() string    { return "CapturedAudioFrame" }
func (TranscriptionFrame) FrameName() string    { return "TranscriptionFrame" }
func (LLMMessagesFrame) FrameName() string      { return "LLMMessagesFrame" }
func (LLMResponseStartFrame) FrameName() string { return "LLMResponseStartFrame" }
func (LLMResponseEndFrame) FrameName() string   { return "LLMResponseEndFrame" }
func (TextFrame) FrameName() string             { return "TextFrame" }
func (TTSAudioFrame) FrameName() string         { return "TTSAudioFrame" }
func (VoiceChangedFrame) FrameName() string     { return "VoiceChangedFrame" }
func (EndFrame) FrameName() string              { return "EndFrame" }
func (CancelFrame) FrameName() string           { return "CancelFrame" }

func (f TranscriptionFrame) String() string {
	return fmt.Sprintf("TranscriptionFrame(user: %s, text: %q)", f.UserID, f.Text)
}

// IsTerminal reports whether f ends the session.
func IsTerminal(f Frame) bool {
	switch f.(type) {
	case EndFrame, *EndFrame, CancelFrame, *CancelFrame:
		return true
	}
	return false
}
