package voice

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewArchiveDisabledWithoutDir(t *testing.T) {
	if a := NewArchive("  ", "s", "p"); a != nil {
		t.Fatalf("expected nil archive for empty dir, got %+v", a)
	}
	var a *Archive
	if p, err := a.SaveSample("job", []byte("x"), 1); err != nil || p != "" {
		t.Fatalf("nil archive SaveSample: path=%q err=%v", p, err)
	}
	if err := a.MergeUpdates("job", map[string]any{"status": "failed"}); err != nil {
		t.Fatalf("nil archive MergeUpdates: %v", err)
	}
}

func TestArchiveSaveAndMerge(t *testing.T) {
	t.Setenv("SIDECAR_LOCKING", "true")
	dir := t.TempDir()
	a := NewArchive(dir, "sess-1", "cartesia")

	wavPath, err := a.SaveSample("job-9", []byte("RIFFdata"), 12.5)
	if err != nil {
		t.Fatalf("SaveSample: %v", err)
	}
	if want := filepath.Join(dir, "sess-1-job-9.wav"); wavPath != want {
		t.Fatalf("wav path mismatch: want=%s got=%s", want, wavPath)
	}
	if b, err := os.ReadFile(wavPath); err != nil || string(b) != "RIFFdata" {
		t.Fatalf("wav content: %q err=%v", b, err)
	}

	if err := a.MergeUpdates("job-9", map[string]any{"status": "completed", "voice_id": "v-1"}); err != nil {
		t.Fatalf("MergeUpdates: %v", err)
	}
	b, err := os.ReadFile(a.SidecarPath("job-9"))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var sc map[string]any
	if err := json.Unmarshal(b, &sc); err != nil {
		t.Fatalf("sidecar json: %v", err)
	}
	for k, want := range map[string]any{
		"job_id":         "job-9",
		"session_id":     "sess-1",
		"provider":       "cartesia",
		"status":         "completed",
		"voice_id":       "v-1",
		"voiced_seconds": 12.5,
		"wav_path":       wavPath,
	} {
		if sc[k] != want {
			t.Fatalf("sidecar[%s]: want=%v got=%v", k, want, sc[k])
		}
	}
	if _, ok := sc["updated_utc"]; !ok {
		t.Fatalf("sidecar missing updated_utc")
	}
}

func TestArchiveMergeMissingSidecar(t *testing.T) {
	a := NewArchive(t.TempDir(), "", "p")
	if err := a.MergeUpdates("nope", map[string]any{"status": "failed"}); err == nil {
		t.Fatalf("expected error for missing sidecar")
	}
}

func TestPruneArchive(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, "", "p")
	now := time.Now()
	for i, age := range []time.Duration{3 * time.Hour, 2 * time.Minute, time.Minute, 0} {
		handle := []string{"old", "b", "c", "d"}[i]
		if _, err := a.SaveSample(handle, []byte("x"), 1); err != nil {
			t.Fatalf("SaveSample: %v", err)
		}
		mt := now.Add(-age)
		if err := os.Chtimes(a.SidecarPath(handle), mt, mt); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed, err := PruneArchive(dir, time.Hour, 2, now)
	if err != nil {
		t.Fatalf("PruneArchive: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed: want=2 got=%d", removed)
	}
	for _, h := range []string{"old", "b"} {
		if _, err := os.Stat(filepath.Join(dir, h+".wav")); !os.IsNotExist(err) {
			t.Fatalf("expected %s.wav removed, stat err=%v", h, err)
		}
	}
	for _, h := range []string{"c", "d"} {
		if _, err := os.Stat(a.SidecarPath(h)); err != nil {
			t.Fatalf("expected %s kept: %v", h, err)
		}
	}
}

func TestSaveFileAtomicCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "f.json")
	if err := SaveFileAtomic(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("SaveFileAtomic: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}
}
