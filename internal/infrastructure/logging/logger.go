package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config options used in creating zap logger
type Config struct {
	FilePath string // log file path
	Level    string // global logging level
	Env      string // app environment
	AppID    string
}

// ContextLogger .
type ContextLogger string

// ContextLoggerKey logger key in request context
const ContextLoggerKey ContextLogger = "logger"

// ErrUnknownLevel logging level is not one of debug, info, warn or error
var ErrUnknownLevel = errors.New("unknown logging level")

// NewLogger returns a zap logger based on given options, console encoded in
// development and ECS JSON in production. Every entry carries service.id.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	if cfg.Env == "production" {
		encoder = newECSEncoder()
	} else {
		encoder = newConsoleEncoder()
	}

	output, err := getWriteSyncer(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger core: %w", err)
	}

	core := zapcore.NewCore(encoder, output, zap.NewAtomicLevelAt(level))
	logger := zap.New(core, zap.AddStacktrace(zap.LevelEnablerFunc(func(lv zapcore.Level) bool {
		return lv > zap.WarnLevel
	})), zap.AddCaller())
	if cfg.AppID != "" {
		logger = logger.With(zap.String("service.id", cfg.AppID))
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	}
	return zap.InfoLevel, fmt.Errorf("%w: %s", ErrUnknownLevel, level)
}

func newConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.CallerKey = "log.origin.file.name"
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func newECSEncoder() zapcore.Encoder {
	ecsEncoderConfig := zap.NewProductionEncoderConfig()
	ecsEncoderConfig.EncodeTime = zapcore.TimeEncoder(func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	})
	ecsEncoderConfig.TimeKey = "@timestamp"
	ecsEncoderConfig.MessageKey = "message"
	ecsEncoderConfig.LevelKey = "log.level"
	ecsEncoderConfig.CallerKey = "log.origin.file.name"
	ecsEncoderConfig.StacktraceKey = "error.stack_trace"
	return zapcore.NewJSONEncoder(ecsEncoderConfig)
}

func getWriteSyncer(path string) (zapcore.WriteSyncer, error) {
	if path == "" {
		return zapcore.Lock(os.Stderr), nil
	}
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	return zapcore.Lock(fd), nil
}

// SetLoggerInContext set logger into target context
func SetLoggerInContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ContextLoggerKey, logger)
}

// ExtractLoggerFromContext try to extract logger from context, falls back to a
// nop logger when none was set
func ExtractLoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(ContextLoggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}

// LessonFields ECS style fields identifying a learner on a lesson
func LessonFields(userID, lessonID string) []zap.Field {
	return []zap.Field{
		zap.String("user.id", userID),
		zap.String("lesson.id", lessonID),
	}
}
