package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCloneJob(t *testing.T) {
	cloneJobsTotal.Reset()

	RecordCloneJob("cartesia", "submitted")
	RecordCloneJob("cartesia", "submitted")
	RecordCloneJob("cartesia", "completed")

	if got := testutil.ToFloat64(cloneJobsTotal.WithLabelValues("cartesia", "submitted")); got != 2 {
		t.Errorf("expected 2 submitted jobs, got %f", got)
	}
	if got := testutil.ToFloat64(cloneJobsTotal.WithLabelValues("cartesia", "completed")); got != 1 {
		t.Errorf("expected 1 completed job, got %f", got)
	}
}

func TestBotsActiveGauge(t *testing.T) {
	SetBotsActive(3)
	if got := testutil.ToFloat64(botsActive); got != 3 {
		t.Errorf("expected 3 active bots, got %f", got)
	}
	SetBotsActive(0)
}

func TestRecordCapturedSecondsIgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(capturedSecondsTotal)
	RecordCapturedSeconds(0)
	RecordCapturedSeconds(-1)
	RecordCapturedSeconds(2.5)
	if got := testutil.ToFloat64(capturedSecondsTotal) - before; got != 2.5 {
		t.Errorf("expected delta 2.5, got %f", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	RecordVoiceDelete("elevenlabs", "success")
	RecordBotStart("local", "started")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"terifai_voice_deletes_total", "terifai_bot_starts_total", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
