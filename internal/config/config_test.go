package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"HOST", "PORT", "MIN_VOLUME", "VOLUME_SMOOTHING", "MAX_SILENCE_SECS", "MIN_SECS_TO_LAUNCH", "CLONE_POLL_INTERVAL", "CLONE_POLICY", "CLONE_JOB_TIMEOUT", "TTS_PROVIDER", "BOT_SPAWNER", "MAX_BOTS_PER_ROOM", "INTRO_DELAY"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	assert.Equal(t, "0.0.0.0:7860", c.Addr())
	assert.Equal(t, 0.6, c.MinVolume)
	assert.Equal(t, 0.2, c.VolumeSmoothing)
	assert.Equal(t, 300*time.Millisecond, c.MaxSilence)
	assert.Equal(t, 30.0, c.MinSecsToLaunch)
	assert.Equal(t, 5*time.Second, c.ClonePollInterval)
	assert.Equal(t, "once", c.ClonePolicy)
	assert.Zero(t, c.CloneJobTimeout)
	assert.Equal(t, TTSCartesia, c.TTSProvider)
	assert.Equal(t, SpawnerLocal, c.Spawner)
	assert.Equal(t, 1, c.MaxBotsPerRoom)
	assert.Equal(t, time.Second, c.IntroDelay)
}

func TestFromEnvParsing(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MIN_SECS_TO_LAUNCH", "10")
	t.Setenv("MAX_SILENCE_SECS", "0.5")
	t.Setenv("CLONE_POLL_INTERVAL", "2")
	t.Setenv("CLONE_JOB_TIMEOUT", "90s")
	t.Setenv("WHISPER_TRANSLATE", "yes")
	t.Setenv("MIN_VOLUME", "loud")
	t.Setenv("TTS_PROVIDER", "ElevenLabs")
	t.Setenv("ELEVENLABS_VOICE_ID", "el-voice")

	c := FromEnv()
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, 10.0, c.MinSecsToLaunch)
	assert.Equal(t, 500*time.Millisecond, c.MaxSilence)
	assert.Equal(t, 2*time.Second, c.ClonePollInterval)
	assert.Equal(t, 90*time.Second, c.CloneJobTimeout)
	assert.True(t, c.STTTranslate)
	assert.Equal(t, 0.6, c.MinVolume, "invalid values keep the default")
	assert.Equal(t, TTSElevenLabs, c.TTSProvider)
	assert.Equal(t, "el-voice", c.DefaultVoice())
}

func TestValidateBot(t *testing.T) {
	c := Config{TTSProvider: TTSCartesia}
	err := c.ValidateBot(true)
	var missing *MissingEnvError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"CARTESIA_API_KEY", "DAILY_API_KEY", "OPENAI_API_KEY", "WHISPER_URL"}, missing.Vars)

	c = Config{TTSProvider: TTSCartesia, OpenAIAPIKey: "k", WhisperURL: "http://w", CartesiaAPIKey: "c"}
	assert.NoError(t, c.ValidateBot(false))

	c.TTSProvider = "xtts"
	assert.Error(t, c.ValidateBot(false))
}

func TestValidateServer(t *testing.T) {
	c := Config{
		Spawner:           SpawnerFly,
		MaxBotsPerRoom:    1,
		OpenAIAPIKey:      "o",
		DailyAPIKey:       "d",
		ElevenLabsAPIKey:  "e",
		ElevenLabsVoiceID: "v",
		CartesiaAPIKey:    "c",
	}
	err := c.ValidateServer()
	var missing *MissingEnvError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"FLY_API_KEY", "FLY_APP_NAME"}, missing.Vars)
	assert.Contains(t, err.Error(), "FLY_API_KEY, FLY_APP_NAME")

	c.Spawner = SpawnerLocal
	assert.NoError(t, c.ValidateServer())

	c.MaxBotsPerRoom = 0
	assert.Error(t, c.ValidateServer())
}
