package voice

import (
	"context"

	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/pipeline"
)

// TranscriptionLogger logs what the user said and forwards everything.
type TranscriptionLogger struct {
	SessionID string
}

func (TranscriptionLogger) Name() string { return "TranscriptionLogger" }

func (l TranscriptionLogger) ProcessFrame(ctx context.Context, f pipeline.Frame, push pipeline.PushFunc) error {
	if tf, ok := f.(pipeline.TranscriptionFrame); ok {
		logging.Infow("transcription", "session_id", l.SessionID, "user_id", tf.UserID, "text", tf.Text)
	}
	return push(ctx, f)
}
