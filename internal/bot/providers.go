package bot

import (
	"fmt"
	"io"
	"time"

	"github.com/terifai/terifai/internal/cartesia"
	"github.com/terifai/terifai/internal/clone"
	"github.com/terifai/terifai/internal/config"
	"github.com/terifai/terifai/internal/elevenlabs"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/prompts"
	"github.com/terifai/terifai/internal/stt"
	"github.com/terifai/terifai/internal/transport"
	"github.com/terifai/terifai/internal/voice"
	"github.com/terifai/terifai/llm"
)

// Vendor is a TTS provider that can also clone, delete and list voices.
type Vendor interface {
	voice.Synthesizer
	clone.Cloner
	clone.Lister
}

// NewVendor returns the client for cfg.TTSProvider.
func NewVendor(cfg config.Config) (Vendor, error) {
	switch cfg.TTSProvider {
	case config.TTSCartesia:
		return cartesia.New(cfg.CartesiaAPIKey), nil
	case config.TTSElevenLabs:
		return elevenlabs.New(cfg.ElevenLabsAPIKey, elevenlabs.WithModel(cfg.ElevenLabsModel)), nil
	}
	return nil, fmt.Errorf("unknown TTS provider %q", cfg.TTSProvider)
}

// DefaultVoice is the voice spoken before any clone is ready.
func DefaultVoice(cfg config.Config) string {
	if v := cfg.DefaultVoice(); v != "" {
		return v
	}
	if cfg.TTSProvider == config.TTSCartesia {
		return cartesia.DefaultVoiceID
	}
	return ""
}

// NewJobStore is Redis when REDIS_URL is set and memory otherwise.
func NewJobStore(cfg config.Config) (clone.JobStore, error) {
	if cfg.RedisURL == "" {
		return clone.NewMemoryStore(), nil
	}
	store, err := clone.NewRedisStoreFromURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logging.Debugw("clone jobs stored in redis")
	return store, nil
}

// SettingsFromConfig derives session tuning from cfg.
func SettingsFromConfig(cfg config.Config, sessionID, roomURL, prompt string) (Settings, error) {
	policy, err := voice.ParsePolicy(cfg.ClonePolicy)
	if err != nil {
		return Settings{}, err
	}
	buf := voice.DefaultBufferConfig()
	buf.MinVolume = cfg.MinVolume
	buf.SmoothingFactor = cfg.VolumeSmoothing
	buf.MaxSilence = cfg.MaxSilence

	sttCfg := voice.DefaultSTTConfig()
	sttCfg.MinVolume = cfg.STTMinVolume

	return Settings{
		SessionID:  sessionID,
		RoomURL:    roomURL,
		Prompt:     prompt,
		IntroDelay: cfg.IntroDelay,
		Buffer:     buf,
		Lifecycle: voice.LifecycleConfig{
			LaunchAfter:  time.Duration(cfg.MinSecsToLaunch * float64(time.Second)),
			PollInterval: cfg.ClonePollInterval,
			JobTimeout:   cfg.CloneJobTimeout,
			Policy:       policy,
			DefaultVoice: DefaultVoice(cfg),
			Provider:     cfg.TTSProvider,
		},
		STT:        sttCfg,
		ArchiveDir: cfg.CloneSampleDir,
	}, nil
}

// Services are the process-wide clients behind a session.
type Services struct {
	Vendor  Vendor
	Runner  *clone.Runner
	Whisper *stt.Client
	LLM     *llm.Client
	Prompts *prompts.Catalogue

	store clone.JobStore
}

// NewServices builds every provider client from cfg.
func NewServices(cfg config.Config) (*Services, error) {
	vendor, err := NewVendor(cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewJobStore(cfg)
	if err != nil {
		return nil, err
	}
	runner := clone.NewRunner(vendor, clone.WithStore(store), clone.WithCloneTimeout(cfg.CloneTimeout))
	s := &Services{Vendor: vendor, Runner: runner, LLM: llm.NewClientFromEnv(), store: store}
	var sttOpts []stt.Option
	if cfg.WhisperAuthToken != "" {
		sttOpts = append(sttOpts, stt.WithAuthToken(cfg.WhisperAuthToken))
	}
	s.Whisper, err = stt.New(cfg.WhisperURL, stt.Options{
		Translate:      cfg.STTTranslate,
		BeamSize:       cfg.STTBeamSize,
		Language:       cfg.STTLanguage,
		WordTimestamps: cfg.STTWordTimestamps,
	}, sttOpts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Prompts = prompts.Default()
	if cfg.PromptsFile != "" {
		if s.Prompts, err = prompts.Load(cfg.PromptsFile); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Deps binds the services to a joined room.
func (s *Services) Deps(t transport.Transport) Deps {
	return Deps{
		Transport:   t,
		Transcriber: s.Whisper,
		Completer:   s.LLM,
		Synthesizer: s.Vendor,
		Cloner:      s.Runner,
		Prompts:     s.Prompts,
	}
}

// Close cancels background clone jobs and releases the job store.
func (s *Services) Close() error {
	_ = s.Runner.Close()
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
