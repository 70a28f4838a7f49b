package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrWAVClosed is returned when writing to a closed WAVWriter.
var ErrWAVClosed = errors.New("wav writer closed")

// BuildWAV wraps PCM16LE data in a canonical 44-byte RIFF/WAVE header.
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.Write(wavHeader(len(pcm), sampleRate, channels, bitsPerSample))
	buf.Write(pcm)
	return buf.Bytes()
}

func wavHeader(dataLen, sampleRate, channels, bitsPerSample int) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], uint32(36+dataLen))
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1)
	binary.LittleEndian.PutUint16(h[22:], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(h[32:], uint16(channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(h[34:], uint16(bitsPerSample))
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], uint32(dataLen))
	return h
}

// WAVInfo describes a parsed WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataLen       int
}

// ParseWAV reads the canonical header produced by BuildWAV and returns the
// format and the PCM payload.
func ParseWAV(b []byte) (WAVInfo, []byte, error) {
	if len(b) < wavHeaderSize {
		return WAVInfo{}, nil, fmt.Errorf("wav too short: %d bytes", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return WAVInfo{}, nil, errors.New("not a canonical PCM wav")
	}
	info := WAVInfo{
		Channels:      int(binary.LittleEndian.Uint16(b[22:])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[24:])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:])),
		DataLen:       int(binary.LittleEndian.Uint32(b[40:])),
	}
	if riff := int(binary.LittleEndian.Uint32(b[4:])); riff != 36+info.DataLen {
		return info, nil, fmt.Errorf("riff size %d does not match data length %d", riff, info.DataLen)
	}
	if wavHeaderSize+info.DataLen > len(b) {
		return info, nil, fmt.Errorf("data length %d exceeds payload %d", info.DataLen, len(b)-wavHeaderSize)
	}
	return info, b[wavHeaderSize : wavHeaderSize+info.DataLen], nil
}

// WAVWriter is a growable in-memory WAV container. Its header always matches
// the data written so far, so Bytes is valid at any point.
type WAVWriter struct {
	sampleRate int
	channels   int
	buf        []byte
	closed     bool
}

// NewWAVWriter returns an empty 16-bit container.
func NewWAVWriter(sampleRate, channels int) *WAVWriter {
	w := &WAVWriter{sampleRate: sampleRate, channels: channels}
	w.Reset()
	return w
}

// Write appends PCM16LE frames and patches the header sizes.
func (w *WAVWriter) Write(pcm []byte) (int, error) {
	if w.closed {
		return 0, ErrWAVClosed
	}
	w.buf = append(w.buf, pcm...)
	dataLen := len(w.buf) - wavHeaderSize
	binary.LittleEndian.PutUint32(w.buf[4:], uint32(36+dataLen))
	binary.LittleEndian.PutUint32(w.buf[40:], uint32(dataLen))
	return len(pcm), nil
}

// Frames returns the number of sample frames written.
func (w *WAVWriter) Frames() int {
	return (len(w.buf) - wavHeaderSize) / (w.channels * BytesPerSample)
}

// Bytes returns a copy of the container.
func (w *WAVWriter) Bytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// Reset drops all data and reopens the writer.
func (w *WAVWriter) Reset() {
	w.buf = wavHeader(0, w.sampleRate, w.channels, 16)
	w.closed = false
}

// Close finalizes the container. Further writes fail until Reset.
func (w *WAVWriter) Close() error {
	w.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (w *WAVWriter) Closed() bool { return w.closed }
