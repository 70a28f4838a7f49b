// Package config loads process settings from the environment once at
// startup. Invalid values fall back to their defaults with a warning;
// missing credentials are reported by ValidateBot and ValidateServer.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/terifai/terifai/internal/logging"
)

// TTS providers.
const (
	TTSCartesia   = "cartesia"
	TTSElevenLabs = "elevenlabs"
)

// Spawners.
const (
	SpawnerLocal = "local"
	SpawnerFly   = "fly"
)

// Config is every setting the bot worker and control server read.
type Config struct {
	Host string
	Port int

	OpenAIAPIKey string

	DailyAPIKey string
	DailyAPIURL string

	TTSProvider       string
	CartesiaAPIKey    string
	CartesiaVoiceID   string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModel   string

	WhisperURL        string
	WhisperAuthToken  string
	STTTranslate      bool
	STTBeamSize       int
	STTLanguage       string
	STTWordTimestamps bool
	STTMinVolume      float64

	MinVolume         float64
	VolumeSmoothing   float64
	MaxSilence        time.Duration
	MinSecsToLaunch   float64
	ClonePollInterval time.Duration
	ClonePolicy       string
	CloneJobTimeout   time.Duration
	CloneTimeout      time.Duration

	RedisURL string

	CloneSampleDir           string
	CloneSampleRetention     time.Duration
	CloneSampleCleanInterval time.Duration
	CloneSampleMaxFiles      int

	PromptsFile string
	IntroDelay  time.Duration

	Spawner        string
	BotBinary      string
	MaxBotsPerRoom int
	FlyAPIKey      string
	FlyAppName     string
	FlyAPIHost     string

	// RoomGatewayURL is a websocket media gateway used to join https rooms.
	RoomGatewayURL  string
	DiscordBotToken string
	MetricsAddr     string
}

// FromEnv reads Config from the process environment.
func FromEnv() Config {
	return Config{
		Host: getString("HOST", "0.0.0.0"),
		Port: getInt("PORT", 7860),

		OpenAIAPIKey: getString("OPENAI_API_KEY", ""),

		DailyAPIKey: getString("DAILY_API_KEY", ""),
		DailyAPIURL: getString("DAILY_API_URL", "https://api.daily.co/v1"),

		TTSProvider:       strings.ToLower(getString("TTS_PROVIDER", TTSCartesia)),
		CartesiaAPIKey:    getString("CARTESIA_API_KEY", ""),
		CartesiaVoiceID:   getString("CARTESIA_VOICE_ID", ""),
		ElevenLabsAPIKey:  getString("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getString("ELEVENLABS_VOICE_ID", ""),
		ElevenLabsModel:   getString("ELEVENLABS_MODEL", ""),

		WhisperURL:        getString("WHISPER_URL", ""),
		WhisperAuthToken:  getString("WHISPER_AUTH_TOKEN", ""),
		STTTranslate:      getBool("WHISPER_TRANSLATE", false),
		STTBeamSize:       getInt("STT_BEAM_SIZE", 0),
		STTLanguage:       getString("STT_LANGUAGE", ""),
		STTWordTimestamps: getBool("STT_WORD_TIMESTAMPS", false),
		STTMinVolume:      getFloat("STT_MIN_VOLUME", 0.5),

		MinVolume:         getFloat("MIN_VOLUME", 0.6),
		VolumeSmoothing:   getFloat("VOLUME_SMOOTHING", 0.2),
		MaxSilence:        getSeconds("MAX_SILENCE_SECS", 300*time.Millisecond),
		MinSecsToLaunch:   getFloat("MIN_SECS_TO_LAUNCH", 30),
		ClonePollInterval: getDuration("CLONE_POLL_INTERVAL", 5*time.Second),
		ClonePolicy:       getString("CLONE_POLICY", "once"),
		CloneJobTimeout:   getDuration("CLONE_JOB_TIMEOUT", 0),
		CloneTimeout:      getDuration("CLONE_TIMEOUT", 2*time.Minute),

		RedisURL: getString("REDIS_URL", ""),

		CloneSampleDir:           getString("CLONE_SAMPLE_DIR", ""),
		CloneSampleRetention:     getDuration("CLONE_SAMPLE_RETENTION", 24*time.Hour),
		CloneSampleCleanInterval: getDuration("CLONE_SAMPLE_CLEAN_INTERVAL", 10*time.Minute),
		CloneSampleMaxFiles:      getInt("CLONE_SAMPLE_MAX_FILES", 100),

		PromptsFile: getString("PROMPTS_FILE", ""),
		IntroDelay:  getDuration("INTRO_DELAY", time.Second),

		Spawner:        strings.ToLower(getString("BOT_SPAWNER", SpawnerLocal)),
		BotBinary:      getString("BOT_BINARY", "bot"),
		MaxBotsPerRoom: getInt("MAX_BOTS_PER_ROOM", 1),
		FlyAPIKey:      getString("FLY_API_KEY", ""),
		FlyAppName:     getString("FLY_APP_NAME", ""),
		FlyAPIHost:     getString("FLY_API_HOST", "https://api.machines.dev/v1"),

		RoomGatewayURL:  getString("ROOM_GATEWAY_URL", ""),
		DiscordBotToken: getString("DISCORD_BOT_TOKEN", ""),
		MetricsAddr:     getString("METRICS_ADDR", ""),
	}
}

// Addr is Host:Port.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// DefaultVoice returns the configured default voice for the TTS provider.
func (c Config) DefaultVoice() string {
	if c.TTSProvider == TTSElevenLabs {
		return c.ElevenLabsVoiceID
	}
	return c.CartesiaVoiceID
}

// MissingEnvError lists required variables that are unset.
type MissingEnvError struct {
	Vars []string
}

func (e *MissingEnvError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Vars, ", ")
}

type requirement struct {
	name  string
	value string
}

func check(reqs ...requirement) error {
	var missing []string
	for _, r := range reqs {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingEnvError{Vars: missing}
}

// ValidateBot checks what one bot session needs. withRoom adds the Daily
// key required to create a room in --default mode.
func (c Config) ValidateBot(withRoom bool) error {
	reqs := []requirement{
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
		{"WHISPER_URL", c.WhisperURL},
	}
	switch c.TTSProvider {
	case TTSElevenLabs:
		reqs = append(reqs, requirement{"ELEVENLABS_API_KEY", c.ElevenLabsAPIKey}, requirement{"ELEVENLABS_VOICE_ID", c.ElevenLabsVoiceID})
	case TTSCartesia:
		reqs = append(reqs, requirement{"CARTESIA_API_KEY", c.CartesiaAPIKey})
	default:
		return fmt.Errorf("unknown TTS provider %q", c.TTSProvider)
	}
	if withRoom {
		reqs = append(reqs, requirement{"DAILY_API_KEY", c.DailyAPIKey})
	}
	return check(reqs...)
}

// ValidateServer checks what the control server needs. Fly credentials are
// only required with the fly spawner.
func (c Config) ValidateServer() error {
	reqs := []requirement{
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
		{"DAILY_API_KEY", c.DailyAPIKey},
		{"ELEVENLABS_API_KEY", c.ElevenLabsAPIKey},
		{"ELEVENLABS_VOICE_ID", c.ElevenLabsVoiceID},
		{"CARTESIA_API_KEY", c.CartesiaAPIKey},
	}
	switch c.Spawner {
	case SpawnerFly:
		reqs = append(reqs, requirement{"FLY_API_KEY", c.FlyAPIKey}, requirement{"FLY_APP_NAME", c.FlyAppName})
	case SpawnerLocal:
	default:
		return fmt.Errorf("unknown bot spawner %q", c.Spawner)
	}
	if c.MaxBotsPerRoom < 1 {
		return fmt.Errorf("MAX_BOTS_PER_ROOM must be at least 1, got %d", c.MaxBotsPerRoom)
	}
	return check(reqs...)
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warnw("invalid integer in environment; using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logging.Warnw("invalid number in environment; using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	logging.Warnw("invalid boolean in environment; using default", "key", key, "default", def)
	return def
}

// getDuration accepts Go durations ("5s") or bare seconds ("5").
func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	logging.Warnw("invalid duration in environment; using default", "key", key, "value", v, "default", def)
	return def
}

func getSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logging.Warnw("invalid seconds in environment; using default", "key", key, "value", v, "default", def)
		return def
	}
	return time.Duration(f * float64(time.Second))
}
