package wsroom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/transport"
)

type gateway struct {
	auth   chan string
	joined chan message
	got    chan []byte
	script func(c *websocket.Conn)
}

func newGateway(t *testing.T, script func(c *websocket.Conn)) (*gateway, string) {
	g := &gateway{auth: make(chan string, 1), joined: make(chan message, 1), got: make(chan []byte, 8), script: script}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.auth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		var m message
		if err := c.ReadJSON(&m); err == nil {
			g.joined <- m
		}
		go func() {
			for {
				mt, data, err := c.ReadMessage()
				if err != nil {
					return
				}
				if mt == websocket.BinaryMessage {
					g.got <- data
				}
			}
		}()
		g.script(c)
	}))
	t.Cleanup(srv.Close)
	return g, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, r *Room) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-r.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return transport.Event{}
}

func sendJSON(c *websocket.Conn, v any) {
	b, _ := json.Marshal(v)
	_ = c.WriteMessage(websocket.TextMessage, b)
}

func TestRoomEventsAndAudio(t *testing.T) {
	release := make(chan struct{})
	g, url := newGateway(t, func(c *websocket.Conn) {
		sendJSON(c, map[string]any{"type": "participant-joined", "participant_id": "p1"})
		_ = c.WriteMessage(websocket.BinaryMessage, make([]byte, 640))
		sendJSON(c, map[string]any{"type": "audio-format", "sample_rate": 48000, "channels": 2})
		_ = c.WriteMessage(websocket.BinaryMessage, make([]byte, 3840))
		sendJSON(c, map[string]any{"type": "participant-left", "participant_id": "p1"})
		sendJSON(c, map[string]any{"type": "call-state", "state": "left"})
		<-release
	})
	defer close(release)

	ctx := context.Background()
	r, err := Dial(ctx, url, "secret", WithBotName("tester"))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "Bearer secret", <-g.auth)
	assert.Equal(t, message{Type: "join", Name: "tester"}, <-g.joined)

	assert.Equal(t, transport.Event{Type: transport.EventParticipantJoined, ParticipantID: "p1"}, nextEvent(t, r))
	assert.Equal(t, transport.Event{Type: transport.EventFirstParticipantJoined, ParticipantID: "p1"}, nextEvent(t, r))
	assert.Equal(t, transport.Event{Type: transport.EventParticipantLeft, ParticipantID: "p1"}, nextEvent(t, r))
	assert.Equal(t, transport.Event{Type: transport.EventCallStateUpdated, State: "left"}, nextEvent(t, r))

	first := <-r.Audio()
	assert.Equal(t, 16000, first.SampleRate)
	assert.Equal(t, 320, first.Frames())
	second := <-r.Audio()
	assert.Equal(t, 48000, second.SampleRate)
	assert.Equal(t, 2, second.Channels)

	require.NoError(t, r.WriteAudio(ctx, audio.NewChunk(make([]byte, 640))))
	select {
	case b := <-g.got:
		assert.Len(t, b, 640)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not receive audio")
	}
}

func TestRoomClosedByGateway(t *testing.T) {
	_, url := newGateway(t, func(c *websocket.Conn) {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})
	r, err := Dial(context.Background(), url, "")
	require.NoError(t, err)

	ev := nextEvent(t, r)
	assert.Equal(t, transport.EventClosed, ev.Type)
	assert.NoError(t, ev.Err)
	_, ok := <-r.Events()
	assert.False(t, ok)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.WriteAudio(context.Background(), audio.NewChunk(nil)), ErrClosed)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/none", "")
	assert.Error(t, err)
}
