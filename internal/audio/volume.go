package audio

import (
	"encoding/binary"
	"math"
)

const (
	// loudness range mapped onto [0, 1]
	minLoudnessDB = -20.0
	maxLoudnessDB = 80.0
	// offset applied to mean-square energy when expressing it as loudness
	loudnessOffsetDB = -0.691
)

// InstantVolume returns the chunk's loudness normalized to [0, 1]. Loudness
// is the mean-square energy of the raw int16 sample values in dB; a silent
// chunk has volume 0.
func InstantVolume(c Chunk) float64 {
	n := len(c.Data) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(c.Data[i*BytesPerSample:])))
		sum += s * s
	}
	ms := sum / float64(n)
	if ms <= 0 {
		return 0
	}
	loudness := loudnessOffsetDB + 10*math.Log10(ms)
	return normalize(loudness)
}

func normalize(db float64) float64 {
	v := (db - minLoudnessDB) / (maxLoudnessDB - minLoudnessDB)
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Smooth applies exponential smoothing: previous moves toward value by factor.
func Smooth(value, previous, factor float64) float64 {
	return previous + factor*(value-previous)
}

// SmoothedVolume combines InstantVolume and Smooth. The caller keeps the
// returned value as the next previous.
func SmoothedVolume(c Chunk, previous, factor float64) float64 {
	return Smooth(InstantVolume(c), previous, factor)
}

// VolumeEstimator carries the smoothing state for one audio stream. It is not
// safe for concurrent use; each session stage owns its own.
type VolumeEstimator struct {
	factor float64
	prev   float64
}

// NewVolumeEstimator returns an estimator starting from silence.
func NewVolumeEstimator(factor float64) *VolumeEstimator {
	return &VolumeEstimator{factor: factor}
}

// Next returns the smoothed volume for c and records it.
func (v *VolumeEstimator) Next(c Chunk) float64 {
	v.prev = SmoothedVolume(c, v.prev, v.factor)
	return v.prev
}

// Last returns the most recent smoothed volume.
func (v *VolumeEstimator) Last() float64 { return v.prev }
