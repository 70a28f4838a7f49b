package voice

import (
	"context"
	"time"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/clone"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/pipeline"
)

// Synthesizer turns text into 16 kHz mono PCM16 in the given voice.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

const (
	ttsChunk       = 20 * time.Millisecond
	cleanupTimeout = 10 * time.Second
)

// TTSProcessor speaks assistant text in the active voice while sampling the
// user's voice from CapturedAudioFrames and swapping in the clone once it is
// ready.
type TTSProcessor struct {
	synth     Synthesizer
	buf       *SpeechBuffer
	lifecycle *CloneLifecycle
	archive   *Archive
	sessionID string
}

// TTSOption configures a TTSProcessor.
type TTSOption func(*TTSProcessor)

// WithArchive saves every submitted sample.
func WithArchive(a *Archive) TTSOption {
	return func(p *TTSProcessor) { p.archive = a }
}

// WithSessionID tags logs with the session.
func WithSessionID(id string) TTSOption {
	return func(p *TTSProcessor) { p.sessionID = id }
}

func NewTTSProcessor(synth Synthesizer, buf *SpeechBuffer, lifecycle *CloneLifecycle, opts ...TTSOption) *TTSProcessor {
	p := &TTSProcessor{synth: synth, buf: buf, lifecycle: lifecycle}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *TTSProcessor) Name() string { return "TTSProcessor" }

// Lifecycle exposes the clone state for status reporting and tests.
func (p *TTSProcessor) Lifecycle() *CloneLifecycle { return p.lifecycle }

func (p *TTSProcessor) ProcessFrame(ctx context.Context, f pipeline.Frame, push pipeline.PushFunc) error {
	switch v := f.(type) {
	case pipeline.CapturedAudioFrame:
		if err := p.capture(ctx, v.Chunk, push); err != nil {
			return err
		}
		return push(ctx, f)
	case pipeline.TextFrame:
		if err := p.speak(ctx, v.Text, push); err != nil {
			return err
		}
		return push(ctx, f)
	case pipeline.EndFrame, pipeline.CancelFrame:
		p.finish()
		return push(ctx, f)
	default:
		return push(ctx, f)
	}
}

func (p *TTSProcessor) capture(ctx context.Context, c audio.Chunk, push pipeline.PushFunc) error {
	if p.lifecycle.Finished() || p.buf.Closed() {
		return nil
	}
	if _, err := p.buf.Write(c); err != nil {
		logging.Warnw("failed to buffer captured audio", "session_id", p.sessionID, "chunk", c.String(), "err", err)
		return nil
	}
	seconds := p.buf.VoicedSeconds()
	out := p.lifecycle.Advance(ctx, p.buf)

	if out.Launched != "" {
		if _, err := p.archive.SaveSample(out.Launched, out.Sample, seconds); err != nil {
			logging.Warnw("failed to archive clone sample", append(logging.JobFields(out.Launched), "err", err)...)
		}
	}
	for _, h := range out.Dropped {
		p.recordOutcome(h, clone.StatusFailed, "")
	}
	if out.Completed == "" {
		return nil
	}
	p.recordOutcome(out.Completed, clone.StatusCompleted, out.VoiceID)
	return push(ctx, pipeline.VoiceChangedFrame{Provider: p.synth.Name(), VoiceID: out.VoiceID})
}

func (p *TTSProcessor) recordOutcome(handle string, status clone.Status, voiceID string) {
	if p.archive == nil {
		return
	}
	updates := map[string]any{"status": string(status)}
	if voiceID != "" {
		updates["voice_id"] = voiceID
	}
	if err := p.archive.MergeUpdates(handle, updates); err != nil {
		logging.Debugw("failed to update clone sample sidecar", append(logging.JobFields(handle), "err", err)...)
	}
}

func (p *TTSProcessor) speak(ctx context.Context, text string, push pipeline.PushFunc) error {
	if text == "" {
		return nil
	}
	voiceID := p.lifecycle.ActiveVoice()
	pcm, err := p.synth.Synthesize(ctx, text, voiceID)
	if err != nil {
		logging.Errorw("speech synthesis failed", append(logging.VoiceFields(p.synth.Name(), voiceID), "session_id", p.sessionID, "err", err)...)
		return nil
	}
	for _, c := range audio.Split(pcm, audio.SampleRate, audio.Channels, ttsChunk) {
		if err := push(ctx, pipeline.TTSAudioFrame{Chunk: c}); err != nil {
			return err
		}
	}
	return nil
}

// finish runs on End and Cancel, before the frame moves on. Cleanup gets its
// own deadline since the session context may already be done.
func (p *TTSProcessor) finish() {
	if err := p.buf.Close(); err != nil {
		logging.Warnw("failed to close speech buffer", "session_id", p.sessionID, "err", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	p.lifecycle.Cleanup(ctx)
}
