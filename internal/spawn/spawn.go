// Package spawn launches bot workers, one per session, and reports their
// state.
package spawn

import (
	"context"
	"errors"
)

// Status values shared by every spawner.
const (
	StatusStarting = "starting"
	StatusStarted  = "started"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

// ErrUnknownBot is returned by Status for ids the spawner never issued.
var ErrUnknownBot = errors.New("spawn: unknown bot")

// Request is what a bot worker needs to join a room.
type Request struct {
	RoomURL string
	Token   string
	Prompt  string
}

// Args renders r as bot worker flags.
func (r Request) Args() []string {
	args := []string{"--room_url", r.RoomURL, "--token", r.Token}
	if r.Prompt != "" {
		args = append(args, "--prompt", r.Prompt)
	}
	return args
}

// Spawner starts bot workers.
type Spawner interface {
	// Name identifies the spawner in logs and metrics.
	Name() string
	// Start launches a worker and returns its id once it is running.
	Start(ctx context.Context, req Request) (string, error)
	// Status reports the worker state, usually one of the Status values.
	Status(ctx context.Context, id string) (string, error)
}

// Live reports whether status describes a worker still in its room.
func Live(status string) bool {
	return status == StatusStarting || status == StatusStarted || status == "created"
}
