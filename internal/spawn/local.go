package spawn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/terifai/terifai/internal/logging"
)

// Local runs each bot worker as a child process of the server.
type Local struct {
	binary string
	prefix []string
	env    []string

	mu    sync.Mutex
	procs map[string]*process
	wg    sync.WaitGroup
}

type process struct {
	cmd    *exec.Cmd
	status string
	done   chan struct{}
}

// NewLocal spawns binary with the worker flags. env is appended to the
// server's environment.
func NewLocal(binary string, env ...string) *Local {
	return &Local{binary: binary, env: env, procs: make(map[string]*process)}
}

func (l *Local) Name() string { return "local" }

// Start does not tie the child to ctx; workers outlive the request that
// started them.
func (l *Local) Start(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	args := append(append([]string(nil), l.prefix...), req.Args()...)
	cmd := exec.Command(l.binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), l.env...)
	cmd.Env = append(cmd.Env, "BOT_ID="+id)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("spawn: start %s: %w", l.binary, err)
	}
	p := &process{cmd: cmd, status: StatusStarted, done: make(chan struct{})}
	l.mu.Lock()
	l.procs[id] = p
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := cmd.Wait()
		l.mu.Lock()
		if err != nil {
			p.status = StatusFailed
		} else {
			p.status = StatusStopped
		}
		l.mu.Unlock()
		close(p.done)
		logging.Infow("bot worker exited", append(logging.BotFields(id, req.RoomURL), "pid", cmd.Process.Pid, "err", err)...)
	}()
	logging.Infow("bot worker started", append(logging.BotFields(id, req.RoomURL), "pid", cmd.Process.Pid)...)
	return id, nil
}

func (l *Local) Status(_ context.Context, id string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[id]
	if !ok {
		return "", ErrUnknownBot
	}
	return p.status, nil
}

// Shutdown interrupts every running worker and waits up to grace before
// killing the rest.
func (l *Local) Shutdown(grace time.Duration) {
	l.mu.Lock()
	var running []*process
	for _, p := range l.procs {
		if p.status == StatusStarted {
			running = append(running, p)
		}
	}
	l.mu.Unlock()

	for _, p := range running {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	expired := false
	for _, p := range running {
		if !expired {
			select {
			case <-p.done:
				continue
			case <-timer.C:
				expired = true
			}
		}
		_ = p.cmd.Process.Kill()
	}
	l.wg.Wait()
}
