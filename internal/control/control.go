// Package control holds the room and bot operations behind the HTTP and MCP
// control surfaces.
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terifai/terifai/internal/daily"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/metrics"
	"github.com/terifai/terifai/internal/prompts"
	"github.com/terifai/terifai/internal/spawn"
)

var (
	ErrBotNotFound = errors.New("bot not found")
	ErrRoomFull    = errors.New("room already has the maximum number of bots")
	ErrInvalid     = errors.New("invalid request")
)

// Rooms creates rooms and tokens.
type Rooms interface {
	CreateRoomWithToken(ctx context.Context) (daily.Room, error)
	ForURL(ctx context.Context, roomURL string) (daily.Room, error)
}

// StartRequest asks for a bot in a room.
type StartRequest struct {
	RoomURL        string `json:"room_url"`
	Token          string `json:"token"`
	SelectedPrompt string `json:"selected_prompt,omitempty"`
}

// Bot is a worker the service started.
type Bot struct {
	ID        string    `json:"bot_id"`
	RoomURL   string    `json:"room_url"`
	Prompt    string    `json:"prompt,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// BotStatus is a Bot with its current worker state.
type BotStatus struct {
	ID     string `json:"bot_id"`
	Status string `json:"status"`
}

// Service tracks the bots it started and caps them per room.
type Service struct {
	rooms      Rooms
	spawner    spawn.Spawner
	prompts    *prompts.Catalogue
	maxPerRoom int
	now        func() time.Time

	mu       sync.Mutex
	bots     map[string]*tracked
	starting map[string]int
}

type tracked struct {
	Bot
	status string
}

type Option func(*Service)

// WithPrompts rejects start requests naming a prompt c does not have.
func WithPrompts(c *prompts.Catalogue) Option {
	return func(s *Service) { s.prompts = c }
}

// WithMaxBotsPerRoom caps live bots per room URL. Values below 1 mean 1.
func WithMaxBotsPerRoom(n int) Option {
	return func(s *Service) {
		if n < 1 {
			n = 1
		}
		s.maxPerRoom = n
	}
}

func NewService(rooms Rooms, spawner spawn.Spawner, opts ...Option) *Service {
	s := &Service{
		rooms:      rooms,
		spawner:    spawner,
		maxPerRoom: 1,
		now:        time.Now,
		bots:       make(map[string]*tracked),
		starting:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom issues a token for roomURL, or creates a fresh room when
// roomURL is empty.
func (s *Service) CreateRoom(ctx context.Context, roomURL string) (daily.Room, error) {
	if roomURL != "" {
		return s.rooms.ForURL(ctx, roomURL)
	}
	return s.rooms.CreateRoomWithToken(ctx)
}

// StartBot spawns a worker for req unless the room is full.
func (s *Service) StartBot(ctx context.Context, req StartRequest) (Bot, error) {
	if req.RoomURL == "" || req.Token == "" {
		return Bot{}, fmt.Errorf("%w: room_url and token are required", ErrInvalid)
	}
	if req.SelectedPrompt != "" && s.prompts != nil && !s.prompts.Has(req.SelectedPrompt) {
		return Bot{}, fmt.Errorf("%w: unknown prompt %q", ErrInvalid, req.SelectedPrompt)
	}
	if err := s.reserve(ctx, req.RoomURL); err != nil {
		metrics.RecordBotStart(s.spawner.Name(), "rejected")
		return Bot{}, err
	}
	defer s.release(req.RoomURL)

	id, err := s.spawner.Start(ctx, spawn.Request{RoomURL: req.RoomURL, Token: req.Token, Prompt: req.SelectedPrompt})
	if err != nil {
		metrics.RecordBotStart(s.spawner.Name(), "error")
		logging.Errorw("failed to start bot", "room.url", req.RoomURL, "spawner", s.spawner.Name(), "err", err)
		return Bot{}, fmt.Errorf("start bot: %w", err)
	}
	b := Bot{ID: id, RoomURL: req.RoomURL, Prompt: req.SelectedPrompt, StartedAt: s.now()}
	s.mu.Lock()
	s.bots[id] = &tracked{Bot: b, status: spawn.StatusStarted}
	s.mu.Unlock()
	metrics.RecordBotStart(s.spawner.Name(), "started")
	s.updateActive()
	logging.Infow("bot started", append(logging.BotFields(id, req.RoomURL), "spawner", s.spawner.Name(), "prompt", req.SelectedPrompt)...)
	return b, nil
}

// reserve claims a slot in roomURL for a start in progress.
func (s *Service) reserve(ctx context.Context, roomURL string) error {
	live := s.liveInRoom(ctx, roomURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if live+s.starting[roomURL] >= s.maxPerRoom {
		return ErrRoomFull
	}
	s.starting[roomURL]++
	return nil
}

func (s *Service) release(roomURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting[roomURL]--; s.starting[roomURL] <= 0 {
		delete(s.starting, roomURL)
	}
}

// liveInRoom refreshes the state of every bot in roomURL and counts those
// still running.
func (s *Service) liveInRoom(ctx context.Context, roomURL string) int {
	var ids []string
	s.mu.Lock()
	for id, b := range s.bots {
		if b.RoomURL == roomURL && spawn.Live(b.status) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, id := range ids {
		st, err := s.refresh(ctx, id)
		if err != nil || spawn.Live(st) {
			n++
		}
	}
	return n
}

func (s *Service) refresh(ctx context.Context, id string) (string, error) {
	st, err := s.spawner.Status(ctx, id)
	if errors.Is(err, spawn.ErrUnknownBot) {
		st, err = spawn.StatusStopped, nil
	}
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if b, ok := s.bots[id]; ok {
		b.status = st
	}
	s.mu.Unlock()
	return st, nil
}

// Status asks the spawner for the state of a bot this service started.
func (s *Service) Status(ctx context.Context, id string) (BotStatus, error) {
	s.mu.Lock()
	_, ok := s.bots[id]
	s.mu.Unlock()
	if !ok {
		return BotStatus{}, ErrBotNotFound
	}
	st, err := s.refresh(ctx, id)
	if err != nil {
		return BotStatus{}, fmt.Errorf("bot status: %w", err)
	}
	s.updateActive()
	return BotStatus{ID: id, Status: st}, nil
}

// Bots lists started bots, oldest first.
func (s *Service) Bots() []Bot {
	s.mu.Lock()
	out := make([]Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b.Bot)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (s *Service) updateActive() {
	s.mu.Lock()
	n := 0
	for _, b := range s.bots {
		if spawn.Live(b.status) {
			n++
		}
	}
	s.mu.Unlock()
	metrics.SetBotsActive(n)
}
