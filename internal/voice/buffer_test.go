package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terifai/terifai/internal/audio"
)

// loud returns a 16 kHz mono square wave of duration d, volume ~0.99.
func loud(d time.Duration) audio.Chunk {
	frames := int(d * audio.SampleRate / time.Second)
	s := make([]int16, frames)
	for i := range s {
		if i%2 == 0 {
			s[i] = 10000
		} else {
			s[i] = -10000
		}
	}
	return audio.NewChunk(audio.SamplesToBytes(s))
}

// quiet returns d of digital silence.
func quiet(d time.Duration) audio.Chunk {
	frames := int(d * audio.SampleRate / time.Second)
	return audio.NewChunk(make([]byte, frames*audio.BytesPerSample))
}

func instantBuffer() *SpeechBuffer {
	cfg := DefaultBufferConfig()
	cfg.SmoothingFactor = 1.0
	return NewSpeechBuffer(cfg)
}

func TestSpeechBufferCountsVoicedAndSilent(t *testing.T) {
	b := instantBuffer()

	kept, err := b.Write(loud(time.Second))
	require.NoError(t, err)
	assert.True(t, kept)
	assert.Equal(t, 16000, b.VoicedFrames())
	assert.InDelta(t, 1.0, b.VoicedSeconds(), 1e-9)
	assert.Zero(t, b.SilentFrames())

	kept, err = b.Write(quiet(500 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, kept)
	assert.Equal(t, 8000, b.SilentFrames())
	assert.InDelta(t, 0.5, b.SilentSeconds(), 1e-9)
	assert.InDelta(t, 1.0, b.VoicedSeconds(), 1e-9, "quiet chunks are not buffered")

	_, err = b.Write(loud(20 * time.Millisecond))
	require.NoError(t, err)
	assert.Zero(t, b.SilentFrames(), "voiced chunk resets the silence run")
	assert.Equal(t, 300*time.Millisecond, b.MaxSilence())
}

func TestSpeechBufferSmoothingDelaysGate(t *testing.T) {
	b := NewSpeechBuffer(DefaultBufferConfig())
	var kept []bool
	for i := 0; i < 5; i++ {
		k, err := b.Write(loud(20 * time.Millisecond))
		require.NoError(t, err)
		kept = append(kept, k)
	}
	assert.Equal(t, []bool{false, false, false, false, true}, kept)
	assert.InDelta(t, 0.668, b.Volume(), 0.01)
	assert.Equal(t, 320, b.VoicedFrames())
}

func TestSpeechBufferFlush(t *testing.T) {
	b := instantBuffer()
	_, err := b.Write(loud(time.Second))
	require.NoError(t, err)

	wav, err := b.Flush()
	require.NoError(t, err)
	info, pcm, err := audio.ParseWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, audio.WAVInfo{SampleRate: 16000, Channels: 1, BitsPerSample: 16, DataLen: 32000}, info)
	assert.Len(t, pcm, 32000)
	assert.Zero(t, b.VoicedFrames())

	empty, err := b.Flush()
	require.NoError(t, err)
	info, _, err = audio.ParseWAV(empty)
	require.NoError(t, err)
	assert.Zero(t, info.DataLen)

	// the buffer keeps working after a flush
	_, err = b.Write(loud(100 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1600, b.VoicedFrames())
}

func TestSpeechBufferRejectsOtherFormats(t *testing.T) {
	b := instantBuffer()
	_, err := b.Write(audio.Chunk{Data: make([]byte, 3840), SampleRate: 48000, Channels: 2})
	assert.ErrorIs(t, err, ErrFormatMismatch)
	_, err = b.Write(audio.Chunk{Data: make([]byte, 640), SampleRate: 16000, Channels: 2})
	assert.ErrorIs(t, err, ErrFormatMismatch)
}

func TestSpeechBufferClose(t *testing.T) {
	b := instantBuffer()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, b.Closed())

	_, err := b.Write(loud(20 * time.Millisecond))
	assert.ErrorIs(t, err, ErrBufferClosed)
	_, err = b.Flush()
	assert.ErrorIs(t, err, ErrBufferClosed)
}
