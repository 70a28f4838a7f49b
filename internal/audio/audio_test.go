package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(amplitude int16, frames int) []byte {
	s := make([]int16, frames)
	for i := range s {
		if i%2 == 0 {
			s[i] = amplitude
		} else {
			s[i] = -amplitude
		}
	}
	return SamplesToBytes(s)
}

func TestChunkFrames(t *testing.T) {
	c := Chunk{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
	assert.Equal(t, 320, c.Frames())
	assert.Equal(t, 20*time.Millisecond, c.Duration())

	stereo := Chunk{Data: make([]byte, 640), SampleRate: 16000, Channels: 2}
	assert.Equal(t, 160, stereo.Frames())

	assert.Equal(t, 0, Chunk{Data: make([]byte, 10)}.Frames())
}

func TestSplit(t *testing.T) {
	chunks := Split(make([]byte, 16000*2), 16000, 1, 20*time.Millisecond)
	require.Len(t, chunks, 50)
	for _, c := range chunks {
		assert.Equal(t, 320, c.Frames())
	}
	tail := Split(make([]byte, 700), 16000, 1, 20*time.Millisecond)
	require.Len(t, tail, 2)
	assert.Len(t, tail[1].Data, 60)
}

func TestInstantVolume(t *testing.T) {
	assert.Equal(t, 0.0, InstantVolume(NewChunk(make([]byte, 640))))
	assert.Equal(t, 0.0, InstantVolume(NewChunk(nil)))

	loud := InstantVolume(NewChunk(square(10000, 320)))
	assert.InDelta(t, 0.993, loud, 0.001)

	quiet := InstantVolume(NewChunk(square(100, 320)))
	assert.InDelta(t, 0.593, quiet, 0.001)

	peak := InstantVolume(NewChunk(square(32767, 320)))
	assert.Equal(t, 1.0, peak)
}

func TestSmoothedVolumeBounded(t *testing.T) {
	c := NewChunk(square(10000, 320))
	instant := InstantVolume(c)
	for _, tc := range []struct{ prev, factor float64 }{
		{0, 0.2}, {0.5, 0.2}, {1, 0.5}, {0.3, 1}, {0.9, 0},
	} {
		got := SmoothedVolume(c, tc.prev, tc.factor)
		lo, hi := tc.prev, instant
		if lo > hi {
			lo, hi = hi, lo
		}
		assert.GreaterOrEqual(t, got, lo-1e-9)
		assert.LessOrEqual(t, got, hi+1e-9)
	}
	assert.InDelta(t, instant, SmoothedVolume(c, 0.1, 1), 1e-12)
	assert.Equal(t, 0.4, SmoothedVolume(c, 0.4, 0))
}

func TestVolumeEstimatorRampsUp(t *testing.T) {
	est := NewVolumeEstimator(0.2)
	c := NewChunk(square(10000, 320))
	var got []float64
	for i := 0; i < 5; i++ {
		got = append(got, est.Next(c))
	}
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
	assert.Less(t, got[3], 0.6)
	assert.GreaterOrEqual(t, got[4], 0.6)
	assert.Equal(t, got[4], est.Last())
}

func TestWAVWriterHeaderConsistent(t *testing.T) {
	w := NewWAVWriter(16000, 1)
	info, pcm, err := ParseWAV(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 0, info.DataLen)
	assert.Empty(t, pcm)

	_, err = w.Write(square(1000, 160))
	require.NoError(t, err)
	_, err = w.Write(square(1000, 160))
	require.NoError(t, err)
	assert.Equal(t, 320, w.Frames())

	info, pcm, err = ParseWAV(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, WAVInfo{SampleRate: 16000, Channels: 1, BitsPerSample: 16, DataLen: 640}, info)
	assert.Len(t, pcm, 640)

	require.NoError(t, w.Close())
	_, err = w.Write([]byte{0, 0})
	assert.ErrorIs(t, err, ErrWAVClosed)

	w.Reset()
	assert.Equal(t, 0, w.Frames())
	assert.False(t, w.Closed())
}

func TestBuildWAVRoundTrip(t *testing.T) {
	pcm := square(500, 100)
	info, got, err := ParseWAV(BuildWAV(pcm, 48000, 2, 16))
	require.NoError(t, err)
	assert.Equal(t, 48000, info.SampleRate)
	assert.Equal(t, 2, info.Channels)
	assert.Equal(t, pcm, got)

	_, _, err = ParseWAV([]byte("RIFF"))
	assert.Error(t, err)
}

func TestResampleAndChannels(t *testing.T) {
	in := make([]int16, 480)
	assert.Len(t, Resample(in, 48000, 16000), 160)
	assert.Len(t, Resample(in, 16000, 48000), 1440)
	assert.Equal(t, in, Resample(in, 16000, 16000))

	stereo := MonoToStereo([]int16{1, 2, 3})
	assert.Equal(t, []int16{1, 1, 2, 2, 3, 3}, stereo)
	assert.Equal(t, []int16{1, 2, 3}, StereoToMono(stereo))

	c := Chunk{Data: SamplesToBytes(make([]int16, 960*2)), SampleRate: 48000, Channels: 2}
	out := ToWorkingFormat(c)
	assert.Equal(t, 16000, out.SampleRate)
	assert.Equal(t, 1, out.Channels)
	assert.Equal(t, 320, out.Frames())
}
