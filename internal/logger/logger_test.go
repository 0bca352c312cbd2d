package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New("warn", format)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if l.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("%s: info enabled at warn level", format)
		}
		if !l.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("%s: error disabled at warn level", format)
		}
	}
}

func TestNewBadLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("expected error")
	}
}
