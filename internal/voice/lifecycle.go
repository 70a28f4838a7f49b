package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/terifai/terifai/internal/clone"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/metrics"
)

// Policy decides how many clone jobs a session may launch.
type Policy string

const (
	// PolicyOnce allows one outstanding job and none after a success.
	PolicyOnce Policy = "once"
	// PolicyRepeat launches on every threshold crossing; later results win.
	PolicyRepeat Policy = "repeat"
)

// ParsePolicy accepts "once" and "repeat"; empty means once.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyOnce:
		return PolicyOnce, nil
	case PolicyRepeat:
		return PolicyRepeat, nil
	}
	return "", fmt.Errorf("unknown clone policy %q", s)
}

// State summarizes the lifecycle.
type State int

const (
	StateIdle State = iota
	StatePending
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// LifecycleConfig tunes job launch and polling.
type LifecycleConfig struct {
	// LaunchAfter is the voiced duration that triggers a clone job.
	LaunchAfter time.Duration
	// PollInterval is the minimum spacing between polls.
	PollInterval time.Duration
	// JobTimeout drops a pending job after this long. Zero disables it.
	JobTimeout time.Duration
	Policy     Policy
	// DefaultVoice is the voice in use until a job completes. It is never deleted.
	DefaultVoice string
	// Provider names the cloning vendor in logs and metrics.
	Provider string
}

type pendingJob struct {
	handle    string
	submitted time.Time
}

// Outcome reports what Advance did.
type Outcome struct {
	// Launched is the handle of a job submitted by this call, with its sample.
	Launched string
	Sample   []byte
	// Completed is the handle of a job whose voice was applied by this call.
	Completed string
	VoiceID   string
	// Dropped lists handles that failed or timed out during this call.
	Dropped []string
}

// CloneLifecycle launches clone jobs from a SpeechBuffer, polls them on a
// throttled cadence and tracks the active voice. Not safe for concurrent
// use; a session stage owns it.
type CloneLifecycle struct {
	cfg      LifecycleConfig
	provider clone.Provider
	limiter  *rate.Limiter
	now      func() time.Time

	pending   []pendingJob
	completed []string
	active    string
	failures  int
	cleaned   bool
}

// NewCloneLifecycle starts in the idle state with the default voice active.
// The poll clock starts now, so the first poll waits a full interval.
func NewCloneLifecycle(cfg LifecycleConfig, provider clone.Provider) *CloneLifecycle {
	return newCloneLifecycle(cfg, provider, time.Now)
}

func newCloneLifecycle(cfg LifecycleConfig, provider clone.Provider, now func() time.Time) *CloneLifecycle {
	if cfg.Policy == "" {
		cfg.Policy = PolicyOnce
	}
	l := &CloneLifecycle{
		cfg:      cfg,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		now:      now,
		active:   cfg.DefaultVoice,
	}
	l.limiter.AllowN(now(), 1)
	return l
}

// ActiveVoice is the voice synthesis should use now.
func (l *CloneLifecycle) ActiveVoice() string { return l.active }

// State summarizes pending and completed jobs.
func (l *CloneLifecycle) State() State {
	switch {
	case len(l.pending) > 0:
		return StatePending
	case len(l.completed) > 0:
		return StateCompleted
	default:
		return StateIdle
	}
}

// Pending returns the handles still being polled.
func (l *CloneLifecycle) Pending() []string {
	out := make([]string, len(l.pending))
	for i, j := range l.pending {
		out[i] = j.handle
	}
	return out
}

// Completed returns the voices applied so far, oldest first.
func (l *CloneLifecycle) Completed() []string { return append([]string(nil), l.completed...) }

// Failures counts jobs that failed to launch, failed, or timed out.
func (l *CloneLifecycle) Failures() int { return l.failures }

// Finished reports whether the lifecycle will never launch another job.
func (l *CloneLifecycle) Finished() bool {
	return l.cfg.Policy == PolicyOnce && len(l.completed) > 0
}

func (l *CloneLifecycle) canLaunch() bool {
	if l.cfg.Policy == PolicyRepeat {
		return true
	}
	return len(l.pending) == 0 && len(l.completed) == 0
}

// Advance runs after every captured chunk: launch a job once buf holds
// enough voiced audio, otherwise poll pending jobs if the interval allows.
// Provider errors are logged and never returned.
func (l *CloneLifecycle) Advance(ctx context.Context, buf *SpeechBuffer) Outcome {
	var out Outcome
	if l.Finished() {
		return out
	}
	out.Dropped = l.expire()

	if l.canLaunch() && buf.VoicedSeconds() >= l.cfg.LaunchAfter.Seconds() {
		l.launch(ctx, buf, &out)
		return out
	}
	if len(l.pending) > 0 && l.limiter.AllowN(l.now(), 1) {
		l.poll(ctx, &out)
	}
	return out
}

func (l *CloneLifecycle) launch(ctx context.Context, buf *SpeechBuffer, out *Outcome) {
	seconds := buf.VoicedSeconds()
	wav, err := buf.Flush()
	if err != nil {
		logging.Errorw("failed to flush speech buffer", "provider", l.cfg.Provider, "err", err)
		return
	}
	metrics.RecordCapturedSeconds(seconds)
	handle, err := l.provider.Submit(ctx, wav)
	if err != nil {
		l.failures++
		logging.Errorw("error launching voice cloning job", "provider", l.cfg.Provider, "voiced_seconds", seconds, "err", err)
		return
	}
	l.pending = append(l.pending, pendingJob{handle: handle, submitted: l.now()})
	out.Launched = handle
	out.Sample = wav
	logging.Infow("voice cloning job launched", append(logging.JobFields(handle), "provider", l.cfg.Provider, "voiced_seconds", seconds, "bytes", len(wav))...)
}

func (l *CloneLifecycle) poll(ctx context.Context, out *Outcome) {
	kept := l.pending[:0]
	for _, job := range l.pending {
		logging.Debugw("polling clone job", logging.JobFields(job.handle)...)
		voiceID, err := l.provider.Poll(ctx, job.handle)
		switch {
		case err == nil:
			l.apply(job.handle, voiceID, out)
		case errors.Is(err, clone.ErrNotReady):
			kept = append(kept, job)
		case errors.Is(err, clone.ErrJobFailed), errors.Is(err, clone.ErrJobNotFound):
			l.failures++
			out.Dropped = append(out.Dropped, job.handle)
			logging.Warnw("clone job dropped", append(logging.JobFields(job.handle), "provider", l.cfg.Provider, "err", err)...)
		default:
			kept = append(kept, job)
			logging.Errorw("error polling clone job", append(logging.JobFields(job.handle), "provider", l.cfg.Provider, "err", err)...)
		}
	}
	l.pending = kept
}

func (l *CloneLifecycle) apply(handle, voiceID string, out *Outcome) {
	l.active = voiceID
	l.completed = append(l.completed, voiceID)
	out.Completed = handle
	out.VoiceID = voiceID
	logging.Infow("clone job completed, voice applied", append(logging.JobFields(handle), logging.VoiceFields(l.cfg.Provider, voiceID)...)...)
}

func (l *CloneLifecycle) expire() []string {
	if l.cfg.JobTimeout <= 0 || len(l.pending) == 0 {
		return nil
	}
	now := l.now()
	var dropped []string
	kept := l.pending[:0]
	for _, job := range l.pending {
		if now.Sub(job.submitted) < l.cfg.JobTimeout {
			kept = append(kept, job)
			continue
		}
		l.failures++
		dropped = append(dropped, job.handle)
		metrics.RecordCloneJob(l.cfg.Provider, "timeout")
		logging.Warnw("clone job timed out", append(logging.JobFields(job.handle), "provider", l.cfg.Provider, "timeout", l.cfg.JobTimeout)...)
	}
	l.pending = kept
	return dropped
}

// Cleanup deletes every completed voice that differs from the default, once
// each. Failures are logged. Later calls do nothing.
func (l *CloneLifecycle) Cleanup(ctx context.Context) {
	if l.cleaned {
		return
	}
	l.cleaned = true
	seen := make(map[string]bool, len(l.completed))
	for _, voiceID := range l.completed {
		if voiceID == "" || voiceID == l.cfg.DefaultVoice || seen[voiceID] {
			continue
		}
		seen[voiceID] = true
		if err := l.provider.Delete(ctx, voiceID); err != nil {
			logging.Errorw("error deleting voice clone", append(logging.VoiceFields(l.cfg.Provider, voiceID), "err", err)...)
			continue
		}
		logging.Infow("deleted voice clone", logging.VoiceFields(l.cfg.Provider, voiceID)...)
	}
}
