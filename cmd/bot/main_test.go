package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"--room_url", "wss://r/1", "--token", "tok", "--prompt", "casual", "--tts", "ElevenLabs"})
	require.NoError(t, err)
	assert.Equal(t, options{roomURL: "wss://r/1", token: "tok", prompt: "casual", tts: "elevenlabs"}, o)

	o, err = parseFlags([]string{"-u", "wss://r/2", "-t", "x"})
	require.NoError(t, err)
	assert.Equal(t, "wss://r/2", o.roomURL)
	assert.Equal(t, "x", o.token)

	o, err = parseFlags([]string{"-d"})
	require.NoError(t, err)
	assert.True(t, o.defaultRoom)

	_, err = parseFlags(nil)
	assert.Error(t, err)
}

func TestSessionIDPrefersSpawnerID(t *testing.T) {
	t.Setenv("BOT_ID", "bot-7")
	assert.Equal(t, "bot-7", sessionID())

	t.Setenv("BOT_ID", "")
	t.Setenv("FLY_MACHINE_ID", "")
	assert.Len(t, sessionID(), 36)
}
