// Package bot runs one conversation session: it joins a room, wires the
// pipeline and turns room events into pipeline frames.
package bot

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terifai/terifai/internal/clone"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/pipeline"
	"github.com/terifai/terifai/internal/prompts"
	"github.com/terifai/terifai/internal/transport"
	"github.com/terifai/terifai/internal/voice"
)

// shutdownGrace is how long a cancelled session gets to run its cleanup.
const shutdownGrace = 15 * time.Second

// Settings tune one session.
type Settings struct {
	SessionID string
	RoomURL   string
	Prompt    string
	// IntroDelay separates the first join from the spoken introduction.
	IntroDelay time.Duration

	Buffer    voice.BufferConfig
	Lifecycle voice.LifecycleConfig
	STT       voice.STTConfig
	// ArchiveDir keeps submitted samples when set.
	ArchiveDir string
}

// Deps are the external services a session talks to.
type Deps struct {
	Transport   transport.Transport
	Transcriber voice.Transcriber
	Completer   pipeline.Completer
	Synthesizer voice.Synthesizer
	Cloner      clone.Provider
	Prompts     *prompts.Catalogue
}

// Session is one bot in one room.
type Session struct {
	set  Settings
	deps Deps

	conv *pipeline.Context
	tts  *voice.TTSProcessor
	task *pipeline.Task
}

func NewSession(set Settings, deps Deps) *Session {
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}
	s := &Session{set: set, deps: deps}
	s.conv = pipeline.NewContext(deps.Prompts.BaseMessage(set.Prompt))

	buf := voice.NewSpeechBuffer(set.Buffer)
	lifecycle := voice.NewCloneLifecycle(set.Lifecycle, deps.Cloner)
	s.tts = voice.NewTTSProcessor(deps.Synthesizer, buf, lifecycle,
		voice.WithSessionID(set.SessionID),
		voice.WithArchive(voice.NewArchive(set.ArchiveDir, set.SessionID, set.Lifecycle.Provider)),
	)

	p := pipeline.New(
		voice.NewSTTProcessor(set.STT, deps.Transcriber, ""),
		voice.TranscriptionLogger{SessionID: set.SessionID},
		pipeline.NewUserAggregator(s.conv),
		pipeline.NewLLMProcessor(deps.Completer),
		s.tts,
		transport.NewOutput(deps.Transport),
		pipeline.NewAssistantAggregator(s.conv, deps.Prompts.VoiceChange),
	)
	s.task = pipeline.NewTask(p)
	return s
}

// Lifecycle exposes clone progress.
func (s *Session) Lifecycle() *voice.CloneLifecycle { return s.tts.Lifecycle() }

// Run blocks until the session ends. Cancelling ctx queues a CancelFrame so
// clone cleanup still runs, bounded by shutdownGrace.
func (s *Session) Run(ctx context.Context) error {
	fields := logging.SessionFields(s.set.SessionID, s.set.RoomURL)
	logging.Infow("session started", append(fields, "prompt", s.set.Prompt)...)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.task.Run(gctx) })
	g.Go(func() error { return s.pumpAudio(gctx) })
	g.Go(func() error { return s.handleEvents(gctx) })
	g.Go(func() error {
		select {
		case <-s.task.Done():
			return nil
		case <-ctx.Done():
		}
		logging.Infow("session cancelled", fields...)
		s.queue(gctx, pipeline.CancelFrame{Reason: "shutdown"})
		select {
		case <-s.task.Done():
		case <-time.After(shutdownGrace):
			logging.Warnw("session cleanup timed out", fields...)
			cancelRun()
		}
		return nil
	})

	err := g.Wait()
	if cerr := s.deps.Transport.Close(); cerr != nil {
		logging.Debugw("transport close error", append(fields, "err", cerr)...)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	l := s.Lifecycle()
	logging.Infow("session ended", append(fields, "voice", l.ActiveVoice(), "clones", len(l.Completed()), "failures", l.Failures(), "err", err)...)
	return err
}

func (s *Session) queue(ctx context.Context, f pipeline.Frame) bool {
	err := s.task.QueueFrame(ctx, f)
	if err != nil && !errors.Is(err, pipeline.ErrTaskDone) && !errors.Is(err, context.Canceled) {
		logging.Warnw("failed to queue frame", "frame", f.FrameName(), "err", err)
	}
	return err == nil
}

func (s *Session) pumpAudio(ctx context.Context) error {
	in := s.deps.Transport.Audio()
	for {
		select {
		case <-s.task.Done():
			return nil
		case <-ctx.Done():
			return nil
		case c, ok := <-in:
			if !ok {
				return nil
			}
			if !s.queue(ctx, pipeline.AudioRawFrame{Chunk: c}) {
				return nil
			}
		}
	}
}

func (s *Session) handleEvents(ctx context.Context) error {
	events := s.deps.Transport.Events()
	for {
		select {
		case <-s.task.Done():
			return nil
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				s.queue(ctx, pipeline.CancelFrame{Reason: "transport closed"})
				return nil
			}
			s.onEvent(ctx, ev)
		}
	}
}

func (s *Session) onEvent(ctx context.Context, ev transport.Event) {
	fields := append(logging.SessionFields(s.set.SessionID, ""), "event", ev.Type, "participant", ev.ParticipantID)
	switch ev.Type {
	case transport.EventFirstParticipantJoined:
		logging.Infow("first participant joined", fields...)
		go s.introduce(ctx)
	case transport.EventParticipantJoined:
		logging.Debugw("participant joined", fields...)
	case transport.EventParticipantLeft:
		logging.Infow("participant left", fields...)
		s.queue(ctx, pipeline.EndFrame{})
	case transport.EventCallStateUpdated:
		logging.Infow("call state updated", append(fields, "state", ev.State)...)
		if ev.State == transport.CallStateLeft {
			s.queue(ctx, pipeline.EndFrame{})
		}
	case transport.EventClosed:
		if ev.Err != nil {
			logging.Warnw("room connection lost", append(fields, "err", ev.Err)...)
		}
		s.queue(ctx, pipeline.CancelFrame{Reason: "transport closed"})
	}
}

// introduce asks the model to greet the user once the intro delay passes.
func (s *Session) introduce(ctx context.Context) {
	if s.set.IntroDelay > 0 {
		t := time.NewTimer(s.set.IntroDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		case <-s.task.Done():
			return
		}
	}
	s.conv.Append(s.deps.Prompts.IntroMessage())
	s.queue(ctx, pipeline.LLMMessagesFrame{Messages: s.conv.Messages()})
}
