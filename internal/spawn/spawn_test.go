package spawn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestArgs(t *testing.T) {
	r := Request{RoomURL: "https://x.daily.co/r", Token: "tok"}
	assert.Equal(t, []string{"--room_url", "https://x.daily.co/r", "--token", "tok"}, r.Args())
	r.Prompt = "casual"
	assert.Equal(t, []string{"--room_url", "https://x.daily.co/r", "--token", "tok", "--prompt", "casual"}, r.Args())
}

func waitStatus(t *testing.T, l *Local, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := l.Status(context.Background(), id)
		return err == nil && s == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLocalLifecycle(t *testing.T) {
	ok, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not on PATH")
	}
	fail, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not on PATH")
	}

	l := NewLocal(ok)
	id, err := l.Start(context.Background(), Request{RoomURL: "ws://room", Token: "t"})
	require.NoError(t, err)
	waitStatus(t, l, id, StatusStopped)

	lf := NewLocal(fail)
	id, err = lf.Start(context.Background(), Request{RoomURL: "ws://room", Token: "t"})
	require.NoError(t, err)
	waitStatus(t, lf, id, StatusFailed)

	_, err = l.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownBot)

	l.Shutdown(time.Second)
	lf.Shutdown(time.Second)
}

func TestLocalStartMissingBinary(t *testing.T) {
	l := NewLocal("/nonexistent/bot-binary")
	_, err := l.Start(context.Background(), Request{})
	assert.Error(t, err)
}

func TestLocalShutdownStopsWorkers(t *testing.T) {
	// The shell ignores the worker flags after --.
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not on PATH")
	}
	l := NewLocal(sh)
	l.prefix = []string{"-c", "sleep 30", "--"}
	id, err := l.Start(context.Background(), Request{RoomURL: "ws://room"})
	require.NoError(t, err)
	waitStatus(t, l, id, StatusStarted)

	done := make(chan struct{})
	go func() {
		l.Shutdown(2 * time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}
	s, _ := l.Status(context.Background(), id)
	assert.NotEqual(t, StatusStarted, s)
}

func TestFlyStart(t *testing.T) {
	old := flyRetryDelay
	flyRetryDelay = time.Millisecond
	t.Cleanup(func() { flyRetryDelay = old })

	var polls atomic.Int32
	createdCh := make(chan machineConfig, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fk", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/apps/terifai/machines":
			json.NewEncoder(w).Encode([]machine{{ID: "m0", Config: machineConfig{Image: "registry.fly.io/terifai:v1"}}})
		case r.Method == http.MethodPost && r.URL.Path == "/apps/terifai/machines":
			var body struct {
				Config machineConfig `json:"config"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			createdCh <- body.Config
			json.NewEncoder(w).Encode(machine{ID: "m1", State: "created"})
		case r.Method == http.MethodGet && r.URL.Path == "/apps/terifai/machines/m1":
			state := "starting"
			if polls.Add(1) >= 3 {
				state = StatusStarted
			}
			json.NewEncoder(w).Encode(machine{ID: "m1", State: state})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFly("fk", "terifai", srv.URL+"/", WithFlyHTTPClient(srv.Client()))
	id, err := f.Start(context.Background(), Request{RoomURL: "https://x.daily.co/r", Token: "tok", Prompt: "casual"})
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	assert.EqualValues(t, 3, polls.Load())

	created := <-createdCh

	assert.Equal(t, "registry.fly.io/terifai:v1", created.Image)
	assert.True(t, created.AutoDestroy)
	assert.Equal(t, "no", created.Restart.Policy)
	assert.Equal(t, []string{"/app/bot", "--room_url", "https://x.daily.co/r", "--token", "tok", "--prompt", "casual"}, created.Init.Cmd)
	assert.Equal(t, machineGuest{CPUKind: "shared", CPUs: 1, MemoryMB: 1024}, created.Guest)

	_, err = f.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownBot)
}

func TestFlyStartNeverStarts(t *testing.T) {
	old := flyRetryDelay
	flyRetryDelay = time.Millisecond
	t.Cleanup(func() { flyRetryDelay = old })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/apps/a/machines":
			json.NewEncoder(w).Encode([]machine{{Config: machineConfig{Image: "img"}}})
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(machine{ID: "m2"})
		default:
			json.NewEncoder(w).Encode(machine{ID: "m2", State: "starting"})
		}
	}))
	defer srv.Close()

	f := NewFly("fk", "a", srv.URL, WithFlyHTTPClient(srv.Client()))
	_, err := f.Start(context.Background(), Request{RoomURL: "r", Token: "t"})
	assert.ErrorContains(t, err, "after 10 retries")
}

func TestFlyNoImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()
	f := NewFly("fk", "a", srv.URL, WithFlyHTTPClient(srv.Client()))
	_, err := f.Start(context.Background(), Request{})
	assert.ErrorContains(t, err, "no machine")
}
