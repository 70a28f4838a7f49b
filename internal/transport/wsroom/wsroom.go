// Package wsroom joins a room through a websocket media gateway. Binary
// messages carry PCM16LE audio; text messages carry JSON room events.
//
// Inbound events:
//
//	{"type":"participant-joined","participant_id":"p1"}
//	{"type":"participant-left","participant_id":"p1"}
//	{"type":"call-state","state":"left"}
//	{"type":"audio-format","sample_rate":48000,"channels":2}
//
// On connect the room is sent {"type":"join","name":...}.
package wsroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/transport"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
	readTimeout      = 2 * pingInterval
	audioBuffer      = 256
	eventBuffer      = 32
	defaultBotName   = "TerifAI"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("wsroom: closed")

type message struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id,omitempty"`
	State         string `json:"state,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	Name          string `json:"name,omitempty"`
}

// Room is a joined websocket room. It implements transport.Transport.
type Room struct {
	conn         *websocket.Conn
	wmu          sync.Mutex
	audio        chan audio.Chunk
	events       chan transport.Event
	participants *transport.Participants
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup

	sampleRate int
	channels   int
}

type options struct {
	name   string
	dialer *websocket.Dialer
}

// Option configures Dial.
type Option func(*options)

// WithBotName sets the display name sent on join.
func WithBotName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// Dial connects to roomURL, authenticating with token as a bearer token.
func Dial(ctx context.Context, roomURL, token string, opts ...Option) (*Room, error) {
	o := options{name: defaultBotName, dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout}}
	for _, opt := range opts {
		opt(&o)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := o.dialer.DialContext(ctx, roomURL, header)
	if err != nil {
		return nil, fmt.Errorf("wsroom: dial %s: %w", roomURL, err)
	}
	r := &Room{
		conn:         conn,
		audio:        make(chan audio.Chunk, audioBuffer),
		events:       make(chan transport.Event, eventBuffer),
		participants: transport.NewParticipants(),
		done:         make(chan struct{}),
		sampleRate:   audio.SampleRate,
		channels:     audio.Channels,
	}
	if err := r.writeJSON(message{Type: "join", Name: o.name}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wsroom: join: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	r.wg.Add(2)
	go r.readLoop()
	go r.keepAlive()
	logging.Infow("wsroom: joined", "room_url", roomURL, "name", o.name)
	return r, nil
}

func (r *Room) Audio() <-chan audio.Chunk        { return r.audio }
func (r *Room) Events() <-chan transport.Event { return r.events }

// WriteAudio sends c as one binary message.
func (r *Room) WriteAudio(ctx context.Context, c audio.Chunk) error {
	select {
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	r.wmu.Lock()
	defer r.wmu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return r.conn.WriteMessage(websocket.BinaryMessage, c.Data)
}

func (r *Room) writeJSON(m message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	r.wmu.Lock()
	defer r.wmu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return r.conn.WriteMessage(websocket.TextMessage, b)
}

// Close leaves the room and waits for the read loop to finish.
func (r *Room) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.wmu.Lock()
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(writeTimeout))
		r.wmu.Unlock()
		err = r.conn.Close()
	})
	r.wg.Wait()
	return err
}

func (r *Room) emit(ev transport.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Room) readLoop() {
	defer r.wg.Done()
	var readErr error
	defer func() {
		ev := transport.Event{Type: transport.EventClosed, Err: readErr}
		select {
		case r.events <- ev:
		case <-r.done:
			select {
			case r.events <- ev:
			default:
			}
		}
		close(r.events)
		close(r.audio)
	}()
	for {
		mt, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					readErr = err
				}
			}
			return
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		switch mt {
		case websocket.BinaryMessage:
			c := audio.Chunk{Data: data, SampleRate: r.sampleRate, Channels: r.channels}
			select {
			case r.audio <- c:
			case <-r.done:
				return
			}
		case websocket.TextMessage:
			r.handleText(data)
		}
	}
}

func (r *Room) handleText(data []byte) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		logging.Debugw("wsroom: ignoring malformed event", "err", err)
		return
	}
	switch m.Type {
	case "participant-joined":
		for _, ev := range r.participants.Join(m.ParticipantID) {
			r.emit(ev)
		}
	case "participant-left":
		for _, ev := range r.participants.Leave(m.ParticipantID) {
			r.emit(ev)
		}
	case "call-state":
		r.emit(transport.Event{Type: transport.EventCallStateUpdated, State: m.State})
	case "audio-format":
		if m.SampleRate > 0 && m.Channels > 0 {
			r.sampleRate, r.channels = m.SampleRate, m.Channels
		}
	default:
		logging.Debugw("wsroom: ignoring event", "type", m.Type)
	}
}

func (r *Room) keepAlive() {
	defer r.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.wmu.Lock()
			err := r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			r.wmu.Unlock()
			if err != nil {
				logging.Debugw("wsroom: ping failed", "err", err)
				return
			}
		}
	}
}

var _ transport.Transport = (*Room)(nil)
