package logging

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger_Levels(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		logger, err := NewLogger(&Config{Level: "debug", Env: env, AppID: "test"})
		if err != nil {
			t.Fatalf("NewLogger(%s): %v", env, err)
		}
		if !logger.Core().Enabled(zap.DebugLevel) {
			t.Fatalf("%s logger: debug should be enabled", env)
		}
	}

	logger, err := NewLogger(&Config{Level: "warn"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("info enabled on a warn logger")
	}
}

func TestNewLogger_UnknownLevel(t *testing.T) {
	if _, err := NewLogger(&Config{Level: "verbose"}); !errors.Is(err, ErrUnknownLevel) {
		t.Fatalf("want ErrUnknownLevel got=%v", err)
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := NewLogger(&Config{Level: "info", Env: "production", FilePath: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hello")
	logger.Sync()
}

func TestExtractLoggerFromContext(t *testing.T) {
	if ExtractLoggerFromContext(context.Background()) == nil {
		t.Fatal("want nop logger for an empty context")
	}
	base := zap.NewExample()
	ctx := SetLoggerInContext(context.Background(), base)
	if got := ExtractLoggerFromContext(ctx); got != base {
		t.Fatal("logger not extracted from context")
	}
}
