package observability

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MustafaPinjari/Ironydjango/internal/platform/requestctx"
)

// NewLogger builds the process-wide JSON logger. Field names follow the
// Cloud Logging conventions (severity, message, timestamp) so entries need
// no reshaping on ingestion. The level comes from API_LOG_LEVEL; anything
// unset or unparsable means info.
func NewLogger() *zap.Logger {
	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("API_LOG_LEVEL")); raw != "" {
		if parsed, err := zapcore.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:    "message",
		LevelKey:      "severity",
		TimeKey:       "timestamp",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(l.String()))
		},
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
}

// WithLogger stores the logger in ctx for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// PrintfAdapter exposes a zap logger through the Printf-shaped interfaces
// some platform packages accept.
type PrintfAdapter struct {
	base *zap.Logger
}

// NewPrintfAdapter wraps the logger for printf-style callers.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{base: logger.WithOptions(zap.AddCallerSkip(1))}
}

// Printf logs the formatted message at info level.
func (a PrintfAdapter) Printf(format string, args ...any) {
	if a.base == nil {
		return
	}
	a.base.Info(fmt.Sprintf(format, args...))
}
