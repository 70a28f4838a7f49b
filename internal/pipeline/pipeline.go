package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/terifai/terifai/internal/logging"
)

const defaultStageBuffer = 128

// ErrTaskDone is returned when frames are queued to a finished task.
var ErrTaskDone = errors.New("pipeline task finished")

// PushFunc sends a frame to the next stage.
type PushFunc func(ctx context.Context, f Frame) error

// Processor is one pipeline stage. ProcessFrame is never called
// concurrently for the same processor, and frames arrive in order. A
// processor forwards what it does not consume by calling push.
type Processor interface {
	Name() string
	ProcessFrame(ctx context.Context, f Frame, push PushFunc) error
}

// Passthrough is a Processor that forwards every frame. Embed it and
// override ProcessFrame to intercept a few frame types.
type Passthrough struct{ ProcessorName string }

func (p Passthrough) Name() string { return p.ProcessorName }

func (Passthrough) ProcessFrame(ctx context.Context, f Frame, push PushFunc) error {
	return push(ctx, f)
}

// Pipeline is an ordered list of processors.
type Pipeline struct {
	procs  []Processor
	buffer int
}

func New(procs ...Processor) *Pipeline {
	return &Pipeline{procs: procs, buffer: defaultStageBuffer}
}

// Task runs a Pipeline until a terminal frame has passed every stage.
type Task struct {
	p    *Pipeline
	in   chan Frame
	done chan struct{}
	once sync.Once
}

func NewTask(p *Pipeline) *Task {
	t := &Task{
		p:    p,
		in:   make(chan Frame, p.buffer),
		done: make(chan struct{}),
	}
	// Every stage sees StartFrame before anything queued by callers.
	t.in <- StartFrame{}
	return t
}

// QueueFrame hands f to the first stage. It blocks while the first stage is
// saturated and fails once the task is done.
func (t *Task) QueueFrame(ctx context.Context, f Frame) error {
	select {
	case <-t.done:
		return ErrTaskDone
	default:
	}
	select {
	case t.in <- f:
		return nil
	case <-t.done:
		return ErrTaskDone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// Run starts one goroutine per stage and blocks until a terminal frame
// leaves the last stage or ctx is cancelled.
func (t *Task) Run(ctx context.Context) error {
	defer t.once.Do(func() { close(t.done) })

	g, ctx := errgroup.WithContext(ctx)
	in := t.in
	for _, proc := range t.p.procs {
		out := make(chan Frame, t.p.buffer)
		s := &stage{proc: proc, in: in, out: out}
		g.Go(func() error { return s.run(ctx) })
		in = out
	}
	sink := in
	g.Go(func() error {
		for {
			select {
			case f := <-sink:
				if IsTerminal(f) {
					logging.Debugw("pipeline finished", "frame", f.FrameName())
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}

type stage struct {
	proc Processor
	in   <-chan Frame
	out  chan<- Frame
}

func (s *stage) push(ctx context.Context, f Frame) error {
	select {
	case s.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stage) run(ctx context.Context) error {
	for {
		var f Frame
		select {
		case f = <-s.in:
		case <-ctx.Done():
			return ctx.Err()
		}

		terminal := IsTerminal(f)
		forwarded := false
		push := func(ctx context.Context, out Frame) error {
			if IsTerminal(out) {
				forwarded = true
			}
			return s.push(ctx, out)
		}

		if err := s.safeProcess(ctx, f, push); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warnw("processor error", "processor", s.proc.Name(), "frame", f.FrameName(), "err", err)
		}
		if terminal {
			if !forwarded {
				if err := s.push(ctx, f); err != nil {
					return err
				}
			}
			return nil
		}
	}
}

// safeProcess keeps a panicking processor from taking the session down.
func (s *stage) safeProcess(ctx context.Context, f Frame, push PushFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", s.proc.Name(), r)
		}
	}()
	return s.proc.ProcessFrame(ctx, f, push)
}
