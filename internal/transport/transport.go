// Package transport defines how a session exchanges audio and participant
// events with a room. Implementations live in subpackages.
package transport

import (
	"context"
	"sync"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/pipeline"
)

// EventType names a room lifecycle event.
type EventType string

const (
	EventParticipantJoined      EventType = "participant-joined"
	EventFirstParticipantJoined EventType = "first-participant-joined"
	EventParticipantLeft        EventType = "participant-left"
	EventCallStateUpdated       EventType = "call-state-updated"
	// EventClosed is the last event; Err is set when the room dropped.
	EventClosed EventType = "closed"
)

// CallStateLeft is the call state reported once the bot is out of the room.
const CallStateLeft = "left"

// Event is delivered on Transport.Events.
type Event struct {
	Type          EventType
	ParticipantID string
	State         string
	Err           error
}

// Transport is a joined room. Audio and Events are closed after the
// EventClosed event.
type Transport interface {
	Audio() <-chan audio.Chunk
	Events() <-chan Event
	WriteAudio(ctx context.Context, c audio.Chunk) error
	Close() error
}

// AudioWriter is the output half of a Transport.
type AudioWriter interface {
	WriteAudio(ctx context.Context, c audio.Chunk) error
}

// Participants tracks who is in the room and turns joins and leaves into
// events, emitting EventFirstParticipantJoined for the first join only.
type Participants struct {
	mu      sync.Mutex
	present map[string]bool
	seen    bool
}

func NewParticipants() *Participants {
	return &Participants{present: make(map[string]bool)}
}

// Join returns the events for id joining. Repeated joins return nothing.
func (p *Participants) Join(id string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.present[id] {
		return nil
	}
	p.present[id] = true
	evs := []Event{{Type: EventParticipantJoined, ParticipantID: id}}
	if !p.seen {
		p.seen = true
		evs = append(evs, Event{Type: EventFirstParticipantJoined, ParticipantID: id})
	}
	return evs
}

// Leave returns the event for id leaving, if it was present.
func (p *Participants) Leave(id string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.present[id] {
		return nil
	}
	delete(p.present, id)
	return []Event{{Type: EventParticipantLeft, ParticipantID: id}}
}

// Count is the number of participants present.
func (p *Participants) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.present)
}

// Output is the pipeline stage that plays synthesized audio into the room.
// Write failures are logged; the frame still moves on.
type Output struct {
	w AudioWriter
}

func NewOutput(w AudioWriter) *Output { return &Output{w: w} }

func (o *Output) Name() string { return "TransportOutput" }

func (o *Output) ProcessFrame(ctx context.Context, f pipeline.Frame, push pipeline.PushFunc) error {
	if af, ok := f.(pipeline.TTSAudioFrame); ok {
		if err := o.w.WriteAudio(ctx, af.Chunk); err != nil {
			logging.Warnw("transport: failed to write audio", "chunk", af.Chunk.String(), "err", err)
		}
	}
	return push(ctx, f)
}
