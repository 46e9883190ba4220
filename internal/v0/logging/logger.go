// Package logging wraps zap with a process-global logger and context-scoped
// fields for the room code and participant identity.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	RoomCodeKey    contextKey = "room_code"
	ParticipantKey contextKey = "participant"
)

// Initialize sets up the global logger based on the environment.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var config zap.Config
		if development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}

		logger, err = config.Build(zap.AddCallerSkip(1))
	})
	return err
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback for tests or before init
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Debug logs a message at DebugLevel.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, appendContextFields(ctx, fields)...)
}

// Info logs a message at InfoLevel.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

// Fatal logs a message at FatalLevel.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}

	if code, ok := ctx.Value(RoomCodeKey).(string); ok {
		fields = append(fields, zap.String("room_code", code))
	}
	if name, ok := ctx.Value(ParticipantKey).(string); ok {
		fields = append(fields, zap.String("participant", name))
	}

	fields = append(fields, zap.String("service", "relay"))
	return fields
}
