package voice

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/pipeline"
)

// Transcriber turns a WAV utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// STTConfig tunes utterance segmentation.
type STTConfig struct {
	// MinVolume is the smoothed volume that counts as speech.
	MinVolume       float64
	SmoothingFactor float64
	// SilenceTimeout ends an utterance after this much trailing quiet.
	SilenceTimeout time.Duration
	// MinVoiced drops utterances with less speech than this.
	MinVoiced time.Duration
	// MaxUtterance forces a flush on long monologues.
	MaxUtterance time.Duration
}

func DefaultSTTConfig() STTConfig {
	return STTConfig{
		MinVolume:       0.5,
		SmoothingFactor: 0.5,
		SilenceTimeout:  600 * time.Millisecond,
		MinVoiced:       300 * time.Millisecond,
		MaxUtterance:    15 * time.Second,
	}
}

type utterance struct {
	pcm     []byte
	voiced  time.Duration
	silence time.Duration
	total   time.Duration
	cid     string
	started time.Time
}

// STTProcessor converts room audio to the working format, passes a copy
// downstream as a CapturedAudioFrame, and transcribes volume-gated
// utterances into TranscriptionFrames.
type STTProcessor struct {
	cfg    STTConfig
	stt    Transcriber
	volume *audio.VolumeEstimator
	userID string
	now    func() time.Time

	cur *utterance
}

func NewSTTProcessor(cfg STTConfig, t Transcriber, userID string) *STTProcessor {
	return &STTProcessor{
		cfg:    cfg,
		stt:    t,
		volume: audio.NewVolumeEstimator(cfg.SmoothingFactor),
		userID: userID,
		now:    time.Now,
	}
}

func (p *STTProcessor) Name() string { return "STTProcessor" }

func (p *STTProcessor) ProcessFrame(ctx context.Context, f pipeline.Frame, push pipeline.PushFunc) error {
	switch v := f.(type) {
	case pipeline.AudioRawFrame:
		c := audio.ToWorkingFormat(v.Chunk)
		if err := push(ctx, pipeline.CapturedAudioFrame{Chunk: c}); err != nil {
			return err
		}
		if wav := p.appendAccum(c); wav != nil {
			return p.flush(ctx, wav, push)
		}
		return nil
	case pipeline.EndFrame:
		if wav := p.drain(); wav != nil {
			if err := p.flush(ctx, wav, push); err != nil {
				return err
			}
		}
		return push(ctx, f)
	case pipeline.CancelFrame:
		p.cur = nil
		return push(ctx, f)
	default:
		return push(ctx, f)
	}
}

// appendAccum adds c to the current utterance and returns a finished WAV
// when the utterance ends.
func (p *STTProcessor) appendAccum(c audio.Chunk) *utteranceWAV {
	loud := p.volume.Next(c) >= p.cfg.MinVolume
	if p.cur == nil {
		if !loud {
			return nil
		}
		p.cur = &utterance{cid: uuid.NewString(), started: p.now()}
	}
	a := p.cur
	d := c.Duration()
	a.pcm = append(a.pcm, c.Data...)
	a.total += d
	if loud {
		a.voiced += d
		a.silence = 0
	} else {
		a.silence += d
	}

	switch {
	case a.total >= p.cfg.MaxUtterance:
		return p.drain()
	case a.silence >= p.cfg.SilenceTimeout:
		if a.voiced < p.cfg.MinVoiced {
			logging.Debugw("stt: dropping short utterance", "correlation_id", a.cid, "voiced_ms", a.voiced.Milliseconds())
			p.cur = nil
			return nil
		}
		return p.drain()
	}
	return nil
}

type utteranceWAV struct {
	wav     []byte
	cid     string
	voiced  time.Duration
	started time.Time
}

func (p *STTProcessor) drain() *utteranceWAV {
	a := p.cur
	p.cur = nil
	if a == nil || a.voiced < p.cfg.MinVoiced {
		return nil
	}
	return &utteranceWAV{
		wav:     audio.BuildWAV(a.pcm, audio.SampleRate, audio.Channels, 16),
		cid:     a.cid,
		voiced:  a.voiced,
		started: a.started,
	}
}

func (p *STTProcessor) flush(ctx context.Context, u *utteranceWAV, push pipeline.PushFunc) error {
	sendTs := p.now()
	text, err := p.stt.Transcribe(ctx, u.wav)
	if err != nil {
		logging.Errorw("stt: transcription failed", "correlation_id", u.cid, "bytes", len(u.wav), "err", err)
		return nil
	}
	text = strings.TrimSpace(text)
	logging.Infow("stt: transcription received",
		"correlation_id", u.cid,
		"user_id", p.userID,
		"voiced_ms", u.voiced.Milliseconds(),
		"stt_latency_ms", p.now().Sub(sendTs).Milliseconds(),
		"chars", len(text),
	)
	if text == "" {
		return nil
	}
	return push(ctx, pipeline.TranscriptionFrame{Text: text, UserID: p.userID, Timestamp: u.started})
}
