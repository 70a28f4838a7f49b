package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terifai/terifai/internal/clone"
	"github.com/terifai/terifai/internal/httpc"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("xi-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestSynthesize(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		var body synthesizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Text)
		assert.Equal(t, DefaultModel, body.ModelID)
		w.Write([]byte{1, 2, 3, 4})
	})
	pcm, err := c.Synthesize(context.Background(), "hello", "voice-1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, pcm)

	_, err = c.Synthesize(context.Background(), "  ", "voice-1")
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voices/add", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.True(t, clone.IsManaged(r.FormValue("name")))
		assert.Equal(t, clone.Description, r.FormValue("description"))
		f, hdr, err := r.FormFile("files")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "audio/wav", hdr.Header.Get("Content-Type"))
		assert.True(t, strings.HasSuffix(hdr.Filename, ".wav"))
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFdata", string(data))
		w.Write([]byte(`{"voice_id":"cloned-1"}`))
	})
	id, err := c.Clone(context.Background(), []byte("RIFFdata"))
	require.NoError(t, err)
	assert.Equal(t, "cloned-1", id)
}

func TestCloneMissingVoiceID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	_, err := c.Clone(context.Background(), []byte("RIFF"))
	assert.Error(t, err)
}

func TestDeleteAndList(t *testing.T) {
	var deleted string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete:
			deleted = strings.TrimPrefix(r.URL.Path, "/voices/")
			w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/voices":
			w.Write([]byte(`{"voices":[{"voice_id":"a","name":"terifai-1234abcd"},{"voice_id":"","name":"broken"},{"voice_id":"b","name":"Rachel"}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()
	require.NoError(t, c.Delete(ctx, "voice-9"))
	assert.Equal(t, "voice-9", deleted)

	voices, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []clone.Voice{{ID: "a", Name: "terifai-1234abcd"}, {ID: "b", Name: "Rachel"}}, voices)
}

func TestDeleteNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such voice", http.StatusNotFound)
	})
	err := c.Delete(context.Background(), "gone")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httpc.StatusOf(err))
}
