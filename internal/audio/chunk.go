// Package audio holds the PCM16 primitives shared by the capture, transport
// and synthesis paths: chunks, loudness, WAV containers and resampling.
package audio

import (
	"fmt"
	"time"
)

const (
	// BytesPerSample is the width of one PCM16 sample.
	BytesPerSample = 2
	// SampleRate is the session's working rate for captured and synthesized audio.
	SampleRate = 16000
	// Channels is the session's working channel count.
	Channels = 1
)

// Chunk is a block of interleaved little-endian PCM16 audio. Chunks are
// treated as immutable once handed to a processor.
type Chunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// NewChunk returns a Chunk at the session's working format.
func NewChunk(data []byte) Chunk {
	return Chunk{Data: data, SampleRate: SampleRate, Channels: Channels}
}

// Frames returns the number of sample frames (one sample per channel).
func (c Chunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Data) / (c.Channels * BytesPerSample)
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Samples decodes the chunk into int16 samples.
func (c Chunk) Samples() []int16 { return BytesToSamples(c.Data) }

func (c Chunk) String() string {
	return fmt.Sprintf("Chunk(size: %d, frames: %d, sample_rate: %d, channels: %d)", len(c.Data), c.Frames(), c.SampleRate, c.Channels)
}

// Split cuts data into chunks of at most d each, at the given format.
func Split(data []byte, sampleRate, channels int, d time.Duration) []Chunk {
	step := int(int64(sampleRate)*int64(d)/int64(time.Second)) * channels * BytesPerSample
	if step <= 0 {
		return []Chunk{{Data: data, SampleRate: sampleRate, Channels: channels}}
	}
	out := make([]Chunk, 0, len(data)/step+1)
	for off := 0; off < len(data); off += step {
		end := off + step
		if end > len(data) {
			end = len(data)
		}
		out = append(out, Chunk{Data: data[off:end], SampleRate: sampleRate, Channels: channels})
	}
	return out
}
