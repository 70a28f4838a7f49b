package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/terifai/terifai/internal/logging"
)

// Archive keeps the samples submitted for cloning on disk, each as a WAV
// with a JSON sidecar that follows the job to completion. A nil Archive
// discards everything.
type Archive struct {
	Dir       string
	SessionID string
	Provider  string
	locking   bool
	now       func() time.Time
}

// NewArchive returns nil when dir is empty. SIDECAR_LOCKING=true takes an
// advisory lock around sidecar updates.
func NewArchive(dir, sessionID, provider string) *Archive {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &Archive{
		Dir:       dir,
		SessionID: sessionID,
		Provider:  provider,
		locking:   strings.EqualFold(strings.TrimSpace(os.Getenv("SIDECAR_LOCKING")), "true"),
		now:       time.Now,
	}
}

func (a *Archive) base(handle string) string {
	name := handle
	if a.SessionID != "" {
		name = a.SessionID + "-" + handle
	}
	return filepath.Join(a.Dir, name)
}

// SidecarPath is where the sidecar for handle lives.
func (a *Archive) SidecarPath(handle string) string { return a.base(handle) + ".json" }

// SaveSample writes wav and a pending sidecar for the job handle and
// returns the WAV path.
func (a *Archive) SaveSample(handle string, wav []byte, voicedSeconds float64) (string, error) {
	if a == nil {
		return "", nil
	}
	if handle == "" {
		return "", fmt.Errorf("archive: empty job handle")
	}
	wavPath := a.base(handle) + ".wav"
	if err := SaveFileAtomic(wavPath, wav, 0o644); err != nil {
		return "", fmt.Errorf("archive: write %s: %w", wavPath, err)
	}
	sc := map[string]any{
		"job_id":         handle,
		"session_id":     a.SessionID,
		"provider":       a.Provider,
		"wav_path":       wavPath,
		"bytes":          len(wav),
		"voiced_seconds": voicedSeconds,
		"status":         "pending",
		"created_utc":    a.now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := SaveFileAtomic(a.SidecarPath(handle), b, 0o644); err != nil {
		return "", fmt.Errorf("archive: write sidecar: %w", err)
	}
	logging.Debugw("archive: saved clone sample", append(logging.JobFields(handle), "path", wavPath, "bytes", len(wav))...)
	return wavPath, nil
}

// MergeUpdates merges updates into the sidecar for handle and rewrites it
// atomically.
func (a *Archive) MergeUpdates(handle string, updates map[string]any) error {
	if a == nil {
		return nil
	}
	path := a.SidecarPath(handle)
	if a.locking {
		unlock, err := lockFile(path + ".lock")
		if err != nil {
			logging.Warnw("archive: failed to lock sidecar", append(logging.JobFields(handle), "path", path, "err", err)...)
			return err
		}
		defer unlock()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("archive: read sidecar %s: %w", path, err)
	}
	var sc map[string]any
	if err := json.Unmarshal(b, &sc); err != nil {
		return fmt.Errorf("archive: invalid sidecar JSON %s: %w", path, err)
	}
	for k, v := range updates {
		sc[k] = v
	}
	sc["updated_utc"] = a.now().UTC().Format(time.RFC3339Nano)
	nb, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	if err := SaveFileAtomic(path, nb, 0o644); err != nil {
		return fmt.Errorf("archive: rewrite sidecar %s: %w", path, err)
	}
	return nil
}

func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}

// SaveFileAtomic writes data to a temp file beside path, fsyncs it and
// renames it into place.
func SaveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

type archivedPair struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

// PruneArchive removes sample pairs older than retention, then the oldest
// pairs beyond maxFiles. Zero disables either limit. It returns how many
// pairs were removed.
func PruneArchive(dir string, retention time.Duration, maxFiles int, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var pairs []archivedPair
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(dir, name)
		info, err := e.Info()
		if err != nil {
			continue
		}
		wavPath := strings.TrimSuffix(jsonPath, ".json") + ".wav"
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sc map[string]any
			if json.Unmarshal(b, &sc) == nil {
				if v, ok := sc["wav_path"].(string); ok && v != "" {
					wavPath = v
				}
			}
		}
		pairs = append(pairs, archivedPair{jsonPath: jsonPath, wavPath: wavPath, mod: info.ModTime()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	removed := 0
	remove := func(p archivedPair) {
		_ = os.Remove(p.jsonPath)
		_ = os.Remove(p.wavPath)
		_ = os.Remove(p.jsonPath + ".lock")
		removed++
	}
	kept := pairs[:0]
	for _, p := range pairs {
		if retention > 0 && p.mod.Before(now.Add(-retention)) {
			remove(p)
			continue
		}
		kept = append(kept, p)
	}
	if maxFiles > 0 && len(kept) > maxFiles {
		for _, p := range kept[:len(kept)-maxFiles] {
			remove(p)
		}
	}
	return removed, nil
}

// StartArchiveCleaner prunes dir every interval until ctx is done. Caller
// must call wg.Add(1) first; the goroutine calls wg.Done on exit.
func StartArchiveCleaner(ctx context.Context, wg *sync.WaitGroup, dir string, retention, interval time.Duration, maxFiles int) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := PruneArchive(dir, retention, maxFiles, time.Now())
				if err != nil {
					logging.Debugw("archive: cleanup failed", "dir", dir, "err", err)
					continue
				}
				if n > 0 {
					logging.Infow("archive: removed old samples", "dir", dir, "removed", n)
				}
			}
		}
	}()
}
