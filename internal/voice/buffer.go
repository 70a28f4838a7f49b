// Package voice samples the user's voice during a session and turns it into
// a cloned synthesis voice. It holds the speech buffer, the clone job
// lifecycle, and the speech-to-text and text-to-speech pipeline stages that
// drive them.
package voice

import (
	"errors"
	"fmt"
	"time"

	"github.com/terifai/terifai/internal/audio"
)

var (
	// ErrBufferClosed is returned by writes after Close.
	ErrBufferClosed = errors.New("speech buffer closed")
	// ErrFormatMismatch is returned for chunks not at 16 kHz mono.
	ErrFormatMismatch = errors.New("chunk format mismatch")
)

// BufferConfig tunes volume gating.
type BufferConfig struct {
	// MinVolume is the smoothed volume at or above which a chunk is voiced.
	MinVolume float64
	// SmoothingFactor weights each new chunk in the smoothed volume.
	SmoothingFactor float64
	// MaxSilence is recorded for callers; the buffer does not act on it.
	MaxSilence time.Duration
}

// DefaultBufferConfig returns the standard gating parameters.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{MinVolume: 0.6, SmoothingFactor: 0.2, MaxSilence: 300 * time.Millisecond}
}

// SpeechBuffer accumulates voiced chunks into an in-memory 16 kHz mono WAV.
// Not safe for concurrent use; a session stage owns it.
type SpeechBuffer struct {
	cfg          BufferConfig
	volume       *audio.VolumeEstimator
	wav          *audio.WAVWriter
	silentFrames int
	closed       bool
}

func NewSpeechBuffer(cfg BufferConfig) *SpeechBuffer {
	return &SpeechBuffer{
		cfg:    cfg,
		volume: audio.NewVolumeEstimator(cfg.SmoothingFactor),
		wav:    audio.NewWAVWriter(audio.SampleRate, audio.Channels),
	}
}

// Write gates c on its smoothed volume. Voiced chunks are appended and reset
// the silence run; quiet chunks only extend it. It reports whether c was
// kept.
func (b *SpeechBuffer) Write(c audio.Chunk) (bool, error) {
	if b.closed {
		return false, ErrBufferClosed
	}
	if c.SampleRate != audio.SampleRate || c.Channels != audio.Channels {
		return false, fmt.Errorf("%w: got %d Hz x%d, want %d Hz x%d", ErrFormatMismatch, c.SampleRate, c.Channels, audio.SampleRate, audio.Channels)
	}
	if b.volume.Next(c) < b.cfg.MinVolume {
		b.silentFrames += c.Frames()
		return false, nil
	}
	if _, err := b.wav.Write(c.Data); err != nil {
		return false, err
	}
	b.silentFrames = 0
	return true, nil
}

// VoicedFrames is the number of frames written since the last flush.
func (b *SpeechBuffer) VoicedFrames() int { return b.wav.Frames() }

// VoicedSeconds is VoicedFrames at 16 kHz.
func (b *SpeechBuffer) VoicedSeconds() float64 {
	return float64(b.wav.Frames()) / audio.SampleRate
}

// SilentFrames is the length of the current run of quiet frames.
func (b *SpeechBuffer) SilentFrames() int { return b.silentFrames }

// SilentSeconds is SilentFrames at 16 kHz.
func (b *SpeechBuffer) SilentSeconds() float64 {
	return float64(b.silentFrames) / audio.SampleRate
}

// MaxSilence returns the configured silence limit.
func (b *SpeechBuffer) MaxSilence() time.Duration { return b.cfg.MaxSilence }

// Volume returns the latest smoothed volume.
func (b *SpeechBuffer) Volume() float64 { return b.volume.Last() }

// Flush returns the finished WAV and starts an empty one.
func (b *SpeechBuffer) Flush() ([]byte, error) {
	if b.closed {
		return nil, ErrBufferClosed
	}
	if err := b.wav.Close(); err != nil {
		return nil, err
	}
	out := b.wav.Bytes()
	b.wav.Reset()
	return out, nil
}

// Close finalizes the buffer and drops its data. Safe to call repeatedly.
func (b *SpeechBuffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.wav.Close()
}

// Closed reports whether Close has been called.
func (b *SpeechBuffer) Closed() bool { return b.closed }
