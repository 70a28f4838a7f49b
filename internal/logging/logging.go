package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
	mu    sync.RWMutex
)

// Logger is the structured logging surface used across the bot, the control
// server and the maintenance tools.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
	Sync() error
}

type noopLogger struct{}

func (noopLogger) Infow(string, ...interface{})  {}
func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}
func (noopLogger) Fatalw(string, ...interface{}) {}
func (noopLogger) Sync() error                   { return nil }

// current is a noop until Init runs so package calls are always safe.
var current Logger = noopLogger{}

// Init builds the global sugared logger from LOG_LEVEL and redirects the
// standard library logger into zap. Safe to call more than once.
func Init() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.Config{
			Encoding:         "json",
			EncoderConfig:    zap.NewProductionEncoderConfig(),
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.Level = zap.NewAtomicLevelAt(levelFromEnv(os.Getenv("LOG_LEVEL")))

		logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
		if err != nil {
			logger = zap.NewNop()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
		SetLogger(sugar)
	})
	return sugar
}

func levelFromEnv(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Sugar returns the logger built by Init, or nil.
func Sugar() *zap.SugaredLogger { return sugar }

// SetLogger replaces the package-level logger. Passing nil restores the
// logger built by Init (or the noop logger). Tests use this to capture output.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case l != nil:
		current = l
	case sugar != nil:
		current = sugar
	default:
		current = noopLogger{}
	}
}

// GetLogger returns the current Logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Infow(msg string, keysAndValues ...interface{})  { GetLogger().Infow(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{}) { GetLogger().Debugw(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { GetLogger().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { GetLogger().Errorw(msg, keysAndValues...) }
func Fatalw(msg string, keysAndValues ...interface{}) { GetLogger().Fatalw(msg, keysAndValues...) }

// FatalExitf logs at fatal level and exits with status 1.
func FatalExitf(msg string, keysAndValues ...interface{}) {
	GetLogger().Fatalw(msg, keysAndValues...)
	os.Exit(1)
}

// Sync flushes any buffered logs.
func Sync() error { return GetLogger().Sync() }

type ctxKeyType struct{}

// WithFields returns a context carrying the key/value pairs, appended to any
// pairs already attached.
func WithFields(ctx context.Context, kv ...interface{}) context.Context {
	if len(kv) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxKeyType{}).([]interface{})
	merged := make([]interface{}, 0, len(prev)+len(kv))
	merged = append(merged, prev...)
	merged = append(merged, kv...)
	return context.WithValue(ctx, ctxKeyType{}, merged)
}

// FromContext returns the fields attached with WithFields.
func FromContext(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(ctxKeyType{}).([]interface{})
	return v
}

func merge(ctx context.Context, kv []interface{}) []interface{} {
	ctxFields := FromContext(ctx)
	if len(ctxFields) == 0 {
		return kv
	}
	merged := make([]interface{}, 0, len(ctxFields)+len(kv))
	merged = append(merged, ctxFields...)
	return append(merged, kv...)
}

// InfowCtx logs with the fields attached to ctx prepended.
func InfowCtx(ctx context.Context, msg string, kv ...interface{}) { Infow(msg, merge(ctx, kv)...) }

// DebugwCtx logs with the fields attached to ctx prepended.
func DebugwCtx(ctx context.Context, msg string, kv ...interface{}) { Debugw(msg, merge(ctx, kv)...) }

// WarnwCtx logs with the fields attached to ctx prepended.
func WarnwCtx(ctx context.Context, msg string, kv ...interface{}) { Warnw(msg, merge(ctx, kv)...) }

// ErrorwCtx logs with the fields attached to ctx prepended.
func ErrorwCtx(ctx context.Context, msg string, kv ...interface{}) { Errorw(msg, merge(ctx, kv)...) }

// Canonical dot-separated keys keep downstream queries uniform.

func SessionFields(sessionID, roomURL string) []interface{} {
	if roomURL == "" {
		return []interface{}{"session.id", sessionID}
	}
	return []interface{}{"session.id", sessionID, "room.url", roomURL}
}

func JobFields(jobID string) []interface{} {
	return []interface{}{"clone.job_id", jobID}
}

func VoiceFields(provider, voiceID string) []interface{} {
	return []interface{}{"voice.provider", provider, "voice.id", voiceID}
}

func BotFields(botID, roomURL string) []interface{} {
	return []interface{}{"bot.id", botID, "room.url", roomURL}
}

func RoomFields(roomURL, roomName string) []interface{} {
	return []interface{}{"room.url", roomURL, "room.name", roomName}
}

// BufferFields describes speech buffer state. voicedMs and silentMs are the
// durations of accepted and skipped audio since the last flush.
func BufferFields(voicedMs, silentMs int) []interface{} {
	return []interface{}{"buffer.voiced_ms", voicedMs, "buffer.silent_ms", silentMs}
}
