package voice

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/pipeline"
)

type recorder struct {
	mu   sync.Mutex
	seen []pipeline.Frame
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) ProcessFrame(ctx context.Context, f pipeline.Frame, push pipeline.PushFunc) error {
	r.mu.Lock()
	r.seen = append(r.seen, f)
	r.mu.Unlock()
	return push(ctx, f)
}

func (r *recorder) frames() []pipeline.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Frame(nil), r.seen...)
}

func ofType[T pipeline.Frame](frames []pipeline.Frame) []T {
	var out []T
	for _, f := range frames {
		if v, ok := f.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func run(t *testing.T, task *pipeline.Task, frames ...pipeline.Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		for _, f := range frames {
			if err := task.QueueFrame(ctx, f); err != nil {
				return
			}
		}
	}()
	require.NoError(t, task.Run(ctx))
}

type fakeSynth struct {
	pcm    []byte
	err    error
	voices []string
}

func (s *fakeSynth) Name() string { return "fake" }

func (s *fakeSynth) Synthesize(_ context.Context, _ string, voiceID string) ([]byte, error) {
	s.voices = append(s.voices, voiceID)
	return s.pcm, s.err
}

// tickingLifecycle moves the clock 10 s per reading so every Advance may poll.
func tickingLifecycle(cfg LifecycleConfig, p *fakeProvider) *CloneLifecycle {
	now := time.Unix(1700000000, 0)
	cfg.PollInterval = 5 * time.Second
	cfg.DefaultVoice = "default-voice"
	cfg.Provider = "fake"
	return newCloneLifecycle(cfg, p, func() time.Time {
		now = now.Add(10 * time.Second)
		return now
	})
}

func TestTTSProcessorSpeaksInChunks(t *testing.T) {
	synth := &fakeSynth{pcm: make([]byte, 1600)}
	tts := NewTTSProcessor(synth, instantBuffer(), tickingLifecycle(LifecycleConfig{LaunchAfter: time.Second}, newFakeProvider()))
	rec := &recorder{}
	run(t, pipeline.NewTask(pipeline.New(tts, rec)), pipeline.TextFrame{Text: "hello"}, pipeline.EndFrame{})

	frames := rec.frames()
	chunks := ofType[pipeline.TTSAudioFrame](frames)
	require.Len(t, chunks, 3)
	assert.Equal(t, 320, chunks[0].Frames())
	assert.Equal(t, 160, chunks[2].Frames())
	assert.Equal(t, pipeline.TextFrame{Text: "hello"}, frames[len(frames)-2], "text follows its audio")
	assert.Equal(t, []string{"default-voice"}, synth.voices)
}

func TestTTSProcessorSynthesisErrorKeepsGoing(t *testing.T) {
	synth := &fakeSynth{err: errors.New("503")}
	tts := NewTTSProcessor(synth, instantBuffer(), tickingLifecycle(LifecycleConfig{LaunchAfter: time.Second}, newFakeProvider()))
	rec := &recorder{}
	run(t, pipeline.NewTask(pipeline.New(tts, rec)), pipeline.TextFrame{Text: "hello"}, pipeline.EndFrame{})

	assert.Empty(t, ofType[pipeline.TTSAudioFrame](rec.frames()))
	assert.Len(t, ofType[pipeline.TextFrame](rec.frames()), 1)
}

func TestTTSProcessorClonesAndSwitchesVoice(t *testing.T) {
	provider := newFakeProvider()
	provider.results["job-1"] = pollResult{voiceID: "cloned-1"}
	synth := &fakeSynth{pcm: make([]byte, 640)}
	lifecycle := tickingLifecycle(LifecycleConfig{LaunchAfter: time.Second}, provider)
	dir := t.TempDir()
	buf := instantBuffer()
	tts := NewTTSProcessor(synth, buf, lifecycle, WithArchive(NewArchive(dir, "sess", "fake")), WithSessionID("sess"))
	rec := &recorder{}

	var in []pipeline.Frame
	for i := 0; i < 51; i++ {
		in = append(in, pipeline.CapturedAudioFrame{Chunk: loud(20 * time.Millisecond)})
	}
	in = append(in, pipeline.TextFrame{Text: "hi"}, pipeline.EndFrame{})
	run(t, pipeline.NewTask(pipeline.New(tts, rec)), in...)

	frames := rec.frames()
	assert.Len(t, ofType[pipeline.CapturedAudioFrame](frames), 51, "captured audio is always forwarded")
	assert.Equal(t, []pipeline.VoiceChangedFrame{{Provider: "fake", VoiceID: "cloned-1"}}, ofType[pipeline.VoiceChangedFrame](frames))
	assert.Equal(t, []string{"cloned-1"}, synth.voices)
	assert.Equal(t, []string{"cloned-1"}, provider.deleted)
	assert.True(t, buf.Closed())

	b, err := os.ReadFile(NewArchive(dir, "sess", "fake").SidecarPath("job-1"))
	require.NoError(t, err)
	var sc map[string]any
	require.NoError(t, json.Unmarshal(b, &sc))
	assert.Equal(t, "completed", sc["status"])
	assert.Equal(t, "cloned-1", sc["voice_id"])
	assert.Equal(t, "sess", sc["session_id"])
}

func TestTTSProcessorCancelRunsCleanup(t *testing.T) {
	provider := newFakeProvider()
	lifecycle := tickingLifecycle(LifecycleConfig{LaunchAfter: time.Second}, provider)
	buf := instantBuffer()
	tts := NewTTSProcessor(&fakeSynth{}, buf, lifecycle)
	rec := &recorder{}
	run(t, pipeline.NewTask(pipeline.New(tts, rec)), pipeline.CancelFrame{Reason: "left"})

	assert.True(t, buf.Closed())
	assert.Empty(t, provider.deleted)
	assert.Equal(t, pipeline.CancelFrame{Reason: "left"}, rec.frames()[len(rec.frames())-1])
}

type fakeTranscriber struct {
	mu   sync.Mutex
	text string
	err  error
	got  [][]byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, wav)
	return f.text, f.err
}

func instantSTT() STTConfig {
	cfg := DefaultSTTConfig()
	cfg.SmoothingFactor = 1.0
	return cfg
}

func rawFrames(c func(time.Duration) audio.Chunk, d time.Duration) []pipeline.Frame {
	var out []pipeline.Frame
	for elapsed := time.Duration(0); elapsed < d; elapsed += 20 * time.Millisecond {
		out = append(out, pipeline.AudioRawFrame{Chunk: c(20 * time.Millisecond)})
	}
	return out
}

func TestSTTProcessorTranscribesUtterance(t *testing.T) {
	stt := &fakeTranscriber{text: "  hello there "}
	rec := &recorder{}
	in := append(rawFrames(loud, 500*time.Millisecond), rawFrames(quiet, 700*time.Millisecond)...)
	in = append(in, pipeline.EndFrame{})
	run(t, pipeline.NewTask(pipeline.New(NewSTTProcessor(instantSTT(), stt, "user-1"), rec)), in...)

	require.Len(t, stt.got, 1)
	info, _, err := audio.ParseWAV(stt.got[0])
	require.NoError(t, err)
	assert.Equal(t, (25+30)*640, info.DataLen, "utterance ends after the silence timeout")

	frames := rec.frames()
	assert.Len(t, ofType[pipeline.CapturedAudioFrame](frames), 60)
	ts := ofType[pipeline.TranscriptionFrame](frames)
	require.Len(t, ts, 1)
	assert.Equal(t, "hello there", ts[0].Text)
	assert.Equal(t, "user-1", ts[0].UserID)
}

func TestSTTProcessorDropsShortUtterances(t *testing.T) {
	stt := &fakeTranscriber{text: "uh"}
	rec := &recorder{}
	in := append(rawFrames(loud, 100*time.Millisecond), rawFrames(quiet, 700*time.Millisecond)...)
	in = append(in, pipeline.EndFrame{})
	run(t, pipeline.NewTask(pipeline.New(NewSTTProcessor(instantSTT(), stt, "u"), rec)), in...)

	assert.Empty(t, stt.got)
	assert.Empty(t, ofType[pipeline.TranscriptionFrame](rec.frames()))
}

func TestSTTProcessorSplitsLongSpeech(t *testing.T) {
	stt := &fakeTranscriber{text: "words"}
	cfg := instantSTT()
	cfg.MaxUtterance = time.Second
	rec := &recorder{}
	in := append(rawFrames(loud, 1500*time.Millisecond), pipeline.EndFrame{})
	run(t, pipeline.NewTask(pipeline.New(NewSTTProcessor(cfg, stt, "u"), rec)), in...)

	require.Len(t, stt.got, 2, "max length flush, then the remainder on End")
	assert.Len(t, ofType[pipeline.TranscriptionFrame](rec.frames()), 2)
}

func TestSTTProcessorConvertsToWorkingFormat(t *testing.T) {
	stt := &fakeTranscriber{}
	rec := &recorder{}
	stereo := audio.Chunk{Data: make([]byte, 48000*2*2/50), SampleRate: 48000, Channels: 2}
	run(t, pipeline.NewTask(pipeline.New(NewSTTProcessor(instantSTT(), stt, "u"), rec)), pipeline.AudioRawFrame{Chunk: stereo}, pipeline.EndFrame{})

	captured := ofType[pipeline.CapturedAudioFrame](rec.frames())
	require.Len(t, captured, 1)
	assert.Equal(t, 16000, captured[0].SampleRate)
	assert.Equal(t, 1, captured[0].Channels)
	assert.Equal(t, 320, captured[0].Frames())
}

func TestSTTProcessorTranscriptionErrorKeepsGoing(t *testing.T) {
	stt := &fakeTranscriber{err: errors.New("whisper down")}
	rec := &recorder{}
	in := append(rawFrames(loud, 500*time.Millisecond), rawFrames(quiet, 700*time.Millisecond)...)
	in = append(in, pipeline.TextFrame{Text: "still here"}, pipeline.EndFrame{})
	run(t, pipeline.NewTask(pipeline.New(NewSTTProcessor(instantSTT(), stt, "u"), rec)), in...)

	assert.Len(t, stt.got, 1)
	assert.Len(t, ofType[pipeline.TextFrame](rec.frames()), 1)
}
