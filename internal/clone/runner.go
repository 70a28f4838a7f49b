package clone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/metrics"
)

const defaultCloneTimeout = 2 * time.Minute

// Runner adapts a blocking Cloner into a Provider. Each Submit records a
// pending job, runs the clone in its own goroutine and stores the outcome.
type Runner struct {
	cloner  Cloner
	store   JobStore
	timeout time.Duration
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore sets the job store. Default is a MemoryStore.
func WithStore(s JobStore) RunnerOption {
	return func(r *Runner) { r.store = s }
}

// WithCloneTimeout bounds a single vendor clone call.
func WithCloneTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRunner(cloner Cloner, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cloner:  cloner,
		store:   NewMemoryStore(),
		timeout: defaultCloneTimeout,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit records a pending job and starts the clone in the background.
func (r *Runner) Submit(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("empty clone sample")
	}
	if err := r.ctx.Err(); err != nil {
		return "", fmt.Errorf("runner closed: %w", err)
	}
	now := r.now()
	job := Job{
		ID:        uuid.NewString(),
		Provider:  r.cloner.Name(),
		Status:    StatusPending,
		Bytes:     len(wav),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Put(ctx, job); err != nil {
		return "", fmt.Errorf("record clone job: %w", err)
	}
	metrics.RecordCloneJob(job.Provider, "submitted")
	logging.Debugw("clone job submitted", append(logging.JobFields(job.ID), "provider", job.Provider, "bytes", job.Bytes)...)

	r.wg.Add(1)
	go r.run(job, wav)
	return job.ID, nil
}

func (r *Runner) run(job Job, wav []byte) {
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := r.now()
	voiceID, err := r.cloner.Clone(ctx, wav)
	job.UpdatedAt = r.now()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		metrics.RecordCloneJob(job.Provider, "failed")
		logging.Warnw("clone job failed", append(logging.JobFields(job.ID), "provider", job.Provider, "err", err)...)
	} else {
		job.Status = StatusCompleted
		job.VoiceID = voiceID
		metrics.RecordCloneJob(job.Provider, "completed")
		metrics.RecordCloneDuration(job.Provider, job.UpdatedAt.Sub(start).Seconds())
		logging.Infow("clone job completed", append(logging.JobFields(job.ID), logging.VoiceFields(job.Provider, voiceID)...)...)
	}
	// The store write must outlive a cancelled runner context.
	putCtx, putCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer putCancel()
	if err := r.store.Put(putCtx, job); err != nil {
		logging.Errorw("failed to record clone job outcome", append(logging.JobFields(job.ID), "err", err)...)
	}
}

// Poll reads the job record. It returns ErrNotReady while the job is pending
// and wraps ErrJobFailed with the vendor error once it has failed.
func (r *Runner) Poll(ctx context.Context, handle string) (string, error) {
	job, err := r.store.Get(ctx, handle)
	if err != nil {
		return "", err
	}
	switch job.Status {
	case StatusCompleted:
		return job.VoiceID, nil
	case StatusFailed:
		return "", fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
	default:
		return "", ErrNotReady
	}
}

// Delete removes a cloned voice from the vendor.
func (r *Runner) Delete(ctx context.Context, voiceID string) error {
	err := r.cloner.Delete(ctx, voiceID)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordVoiceDelete(r.cloner.Name(), status)
	return err
}

// Wait blocks until every in-flight clone has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Close cancels in-flight clones and waits for them to record their outcome.
func (r *Runner) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}
