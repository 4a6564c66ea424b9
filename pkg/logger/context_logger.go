package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

// Context keys carrying identity through command and subscription paths.
const (
	CallIDKey  contextKey = "call_id"
	UserIDKey  contextKey = "user_id"
	GroupIDKey contextKey = "group_id"
)

// ContextLogger enriches log entries with call identity from the context.
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger wraps a zap logger.
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger carrying any call/user/group ids present in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	for _, key := range []contextKey{CallIDKey, UserIDKey, GroupIDKey} {
		if val := ctx.Value(key); val != nil {
			if s, ok := val.(string); ok {
				fields = append(fields, zap.String(string(key), s))
			}
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithError returns a logger with the error attached.
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}
