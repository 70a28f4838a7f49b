// Package clone runs voice-cloning jobs asynchronously and exposes them
// through a submit/poll/delete handle API.
package clone

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotReady is returned by Poll while a job is still running.
	ErrNotReady = errors.New("clone job not ready")
	// ErrJobFailed is returned by Poll for a job that finished without a voice.
	ErrJobFailed = errors.New("clone job failed")
	// ErrJobNotFound is returned when a handle is unknown to the store.
	ErrJobNotFound = errors.New("clone job not found")
)

// Provider is the asynchronous cloning surface consumed by a session.
// Submit returns immediately with a handle; Poll never blocks on the clone
// itself and reports ErrNotReady until a voice identity is available.
type Provider interface {
	Submit(ctx context.Context, wav []byte) (string, error)
	Poll(ctx context.Context, handle string) (string, error)
	Delete(ctx context.Context, voiceID string) error
}

// Cloner is a vendor voice-cloning API. Clone blocks until the vendor has
// produced a voice identity for the WAV sample.
type Cloner interface {
	Name() string
	Clone(ctx context.Context, wav []byte) (string, error)
	Delete(ctx context.Context, voiceID string) error
}

// Voice is an entry returned by a vendor listing.
type Voice struct {
	ID   string
	Name string
}

// Lister is implemented by vendors that can enumerate their voices.
type Lister interface {
	List(ctx context.Context) ([]Voice, error)
}

// Status is the state of a job as recorded in a JobStore.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the persisted record of a clone job.
type Job struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Status    Status    `json:"status"`
	VoiceID   string    `json:"voice_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStore persists job records so Poll can be served from any process
// sharing the store.
type JobStore interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
}

// NamePrefix marks voices created by this service in vendor accounts.
const NamePrefix = "terifai-"

// Description is attached to every voice created by this service.
const Description = "Voice added from terifai service"

// NewVoiceName returns a fresh vendor-side voice name.
func NewVoiceName() string {
	return NamePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// IsManaged reports whether a vendor voice name was produced by NewVoiceName.
func IsManaged(name string) bool { return strings.HasPrefix(name, NamePrefix) }
