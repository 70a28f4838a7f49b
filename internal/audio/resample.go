package audio

// Resample converts samples between rates with linear interpolation. Good
// enough for speech, not for music.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}
	out := make([]int16, newLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		s1, s2 := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(s1 + frac*(s2-s1))
	}
	return out
}

// ResampleBytes resamples raw PCM16LE bytes.
func ResampleBytes(data []byte, fromRate, toRate int) []byte {
	return SamplesToBytes(Resample(BytesToSamples(data), fromRate, toRate))
}

// BytesToSamples decodes PCM16LE bytes. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes encodes samples as PCM16LE.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// MonoToStereo duplicates each sample into both channels.
func MonoToStereo(samples []int16) []int16 {
	stereo := make([]int16, len(samples)*2)
	for i, s := range samples {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return stereo
}

// StereoToMono averages channel pairs.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		mono[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return mono
}

// ToWorkingFormat converts c to 16 kHz mono.
func ToWorkingFormat(c Chunk) Chunk {
	if c.SampleRate == SampleRate && c.Channels == Channels {
		return c
	}
	samples := c.Samples()
	if c.Channels == 2 {
		samples = StereoToMono(samples)
	} else if c.Channels > 2 {
		mono := make([]int16, len(samples)/c.Channels)
		for i := range mono {
			var sum int32
			for ch := 0; ch < c.Channels; ch++ {
				sum += int32(samples[i*c.Channels+ch])
			}
			mono[i] = int16(sum / int32(c.Channels))
		}
		samples = mono
	}
	return NewChunk(SamplesToBytes(Resample(samples, c.SampleRate, SampleRate)))
}
