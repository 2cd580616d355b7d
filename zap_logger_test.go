package cqlstore

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewProductionZapLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "warn", "error"} {
		logger, err := NewProductionZapLogger(level)
		if err != nil {
			t.Fatalf("level %q: failed to create production logger: %v", level, err)
		}
		logger.Info("info message", "key", "value")
	}

	_, err := NewProductionZapLogger("chatty")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown level, got %v", err)
	}
}

func TestNewDevelopmentZapLogger(t *testing.T) {
	logger, err := NewDevelopmentZapLogger()
	if err != nil {
		t.Fatalf("failed to create development logger: %v", err)
	}

	logger.Debug("debug message", "key", "value")
	logger.Error("error message", "key", "value")
}

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	zapLogger := NewZapLogger(zap.New(core))

	zapLogger.Debug("provisioned", "collection", "users")
	zapLogger.Info("connected", "namespace", "biblionarrator", "hosts", 2)
	zapLogger.Warn("staged file not removed", "path", "/tmp/x")
	zapLogger.Error("query failed", "collection", "users")

	entries := recorded.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(entries))
	}

	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, want := range wantLevels {
		if entries[i].Level != want {
			t.Errorf("entry %d: level = %v, want %v", i, entries[i].Level, want)
		}
	}

	fields := entries[1].ContextMap()
	if fields["namespace"] != "biblionarrator" {
		t.Errorf("namespace field = %v", fields["namespace"])
	}
	if fields["hosts"] != int64(2) {
		t.Errorf("hosts field = %v", fields["hosts"])
	}
}

func TestZapLoggerFromSugar(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	zapLogger := NewZapLoggerFromSugar(zap.New(core).Sugar())

	zapLogger.Debug("dropped")
	zapLogger.Info("kept")

	if recorded.Len() != 1 {
		t.Fatalf("expected 1 entry at info level, got %d", recorded.Len())
	}
	if err := zapLogger.Sync(); err != nil {
		t.Logf("sync returned error (can happen with memory logger): %v", err)
	}
}

func TestLoggerImplementations(t *testing.T) {
	var _ Logger = &ZapLogger{}
	var _ Logger = &NoOpLogger{}

	logger := &NoOpLogger{}
	logger.Debug("test message", "key", "value")
	logger.Info("test message", "key", "value")
	logger.Warn("test message", "key", "value")
	logger.Error("test message", "key", "value")
}
