package logger

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func TestLogCandleAddsEventFields(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)
	l.LogCandle("candle_completed", map[string]interface{}{
		"symbol":    "BTCUSDT",
		"timeframe": "30s",
		"time":      int64(0),
		"close":     int64(95),
	})
	entries := logs.FilterMessage("candle_event").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["event"] != "candle_completed" || ctx["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected fields %+v", ctx)
	}
	if logs.FilterMessage("log_schema_violation").Len() != 0 {
		t.Fatalf("unexpected schema violation")
	}
}

func TestLogEventSchemaViolation(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)
	l.LogTrade("trade_rejected", map[string]interface{}{"symbol": "BTCUSDT"})
	if logs.FilterMessage("log_schema_violation").Len() != 1 {
		t.Fatalf("expected schema violation warning")
	}
	if logs.FilterMessage("trade_event").Len() != 1 {
		t.Fatalf("event should still be logged")
	}
}

func TestLogError(t *testing.T) {
	l, logs := newObserved(zapcore.InfoLevel)
	l.LogError(errors.New("boom"), map[string]interface{}{"component": "writer"})
	entries := logs.FilterMessage("error_event").All()
	if len(entries) != 1 || entries[0].ContextMap()["error"] != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud", Outputs: []string{"stdout"}}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	l, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = l.Close()
}
