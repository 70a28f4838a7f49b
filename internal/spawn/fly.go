package spawn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terifai/terifai/internal/httpc"
	"github.com/terifai/terifai/internal/logging"
)

const (
	flyProvider      = "fly"
	flyTimeout       = 20 * time.Second
	flyMaxRetries    = 10
	flyGuestCPUs     = 1
	flyGuestMemoryMB = 1024
)

// flyRetryDelay is the wait between state checks after creating a machine.
var flyRetryDelay = 5 * time.Second

// Fly runs each bot worker on its own auto-destroying Fly machine, using the
// image of the app's first machine.
type Fly struct {
	apiKey  string
	app     string
	baseURL string
	command []string
	client  *http.Client
}

type FlyOption func(*Fly)

// WithFlyHTTPClient sets the HTTP client.
func WithFlyHTTPClient(hc *http.Client) FlyOption {
	return func(f *Fly) { f.client = hc }
}

// WithFlyCommand sets the worker entrypoint; request flags are appended.
func WithFlyCommand(cmd ...string) FlyOption {
	return func(f *Fly) {
		if len(cmd) > 0 {
			f.command = cmd
		}
	}
}

func NewFly(apiKey, app, apiHost string, opts ...FlyOption) *Fly {
	f := &Fly{
		apiKey:  apiKey,
		app:     app,
		baseURL: strings.TrimRight(apiHost, "/"),
		command: []string{"/app/bot"},
		client:  httpc.NewClient(flyTimeout),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fly) Name() string { return flyProvider }

func (f *Fly) call(ctx context.Context, op, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}
	resp, err := httpc.Do(ctx, f.client, httpc.Request{
		Provider:      flyProvider,
		Operation:     op,
		Attempts:      1,
		CorrelationID: uuid.NewString(),
		New: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, method, f.baseURL+"/apps/"+f.app+path, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+f.apiKey)
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		},
	})
	if err != nil {
		return fmt.Errorf("spawn: fly %s: %w", op, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("spawn: fly %s: decode: %w", op, err)
	}
	return nil
}

type machineConfig struct {
	Image       string         `json:"image"`
	AutoDestroy bool           `json:"auto_destroy"`
	Init        machineInit    `json:"init"`
	Restart     machineRestart `json:"restart"`
	Guest       machineGuest   `json:"guest"`
}

type machineInit struct {
	Cmd []string `json:"cmd"`
}

type machineRestart struct {
	Policy string `json:"policy"`
}

type machineGuest struct {
	CPUKind  string `json:"cpu_kind"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
}

type machine struct {
	ID     string        `json:"id"`
	State  string        `json:"state"`
	Config machineConfig `json:"config"`
}

func (f *Fly) image(ctx context.Context) (string, error) {
	var machines []machine
	if err := f.call(ctx, "list_machines", http.MethodGet, "/machines", nil, &machines); err != nil {
		return "", err
	}
	if len(machines) == 0 || machines[0].Config.Image == "" {
		return "", errors.New("spawn: fly: no machine to copy the image from")
	}
	return machines[0].Config.Image, nil
}

// Start creates the machine and waits until it reports started.
func (f *Fly) Start(ctx context.Context, req Request) (string, error) {
	image, err := f.image(ctx)
	if err != nil {
		return "", err
	}
	cfg := machineConfig{
		Image:       image,
		AutoDestroy: true,
		Init:        machineInit{Cmd: append(append([]string(nil), f.command...), req.Args()...)},
		Restart:     machineRestart{Policy: "no"},
		Guest:       machineGuest{CPUKind: "shared", CPUs: flyGuestCPUs, MemoryMB: flyGuestMemoryMB},
	}
	var m machine
	if err := f.call(ctx, "create_machine", http.MethodPost, "/machines", map[string]any{"config": cfg}, &m); err != nil {
		return "", err
	}
	if m.ID == "" {
		return "", errors.New("spawn: fly: create machine returned no id")
	}
	logging.Infow("fly machine created", append(logging.BotFields(m.ID, req.RoomURL), "image", image)...)

	for i := 0; i < flyMaxRetries; i++ {
		state, err := f.Status(ctx, m.ID)
		if err != nil {
			logging.Warnw("fly machine status check failed", append(logging.BotFields(m.ID, req.RoomURL), "err", err)...)
		} else if state == StatusStarted {
			return m.ID, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(flyRetryDelay):
		}
	}
	return "", fmt.Errorf("spawn: fly: machine %s failed to enter started state after %d retries", m.ID, flyMaxRetries)
}

// Status returns the machine state as reported by Fly.
func (f *Fly) Status(ctx context.Context, id string) (string, error) {
	var m machine
	if err := f.call(ctx, "machine_status", http.MethodGet, "/machines/"+id, nil, &m); err != nil {
		if httpc.StatusOf(err) == http.StatusNotFound {
			return "", ErrUnknownBot
		}
		return "", err
	}
	return m.State, nil
}
