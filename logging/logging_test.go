package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*DefaultLogger, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return NewLogger(&stdout, &stderr, false), &stdout, &stderr
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{" warning ", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDefaultLoggerRoutesByLevel(t *testing.T) {
	logger, stdout, stderr := newTestLogger(t)
	logger.SetLevel(DebugLevel)

	logger.Debug("decoding")
	logger.Info("decoded")
	logger.Warn("key fallback")
	logger.Error(errors.New("boom"), "tempo failed")

	out := stdout.String()
	if !strings.Contains(out, "[DEBUG] decoding") || !strings.Contains(out, "[INFO] decoded") {
		t.Errorf("stdout missing debug/info lines: %q", out)
	}
	errOut := stderr.String()
	if !strings.Contains(errOut, "[WARN] key fallback") {
		t.Errorf("stderr missing warn line: %q", errOut)
	}
	if !strings.Contains(errOut, "[ERROR] tempo failed: boom") {
		t.Errorf("stderr missing error line: %q", errOut)
	}
}

func TestDefaultLoggerFiltersBelowLevel(t *testing.T) {
	logger, stdout, _ := newTestLogger(t)
	logger.SetLevel(WarnLevel)

	logger.Info("hidden")
	if stdout.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", stdout.String())
	}
}

func TestWithFieldsSortedAndInherited(t *testing.T) {
	logger, stdout, _ := newTestLogger(t)

	child := logger.WithFields(Fields{"path": "a.wav", "component": "audio_analyzer"})
	child.Info("start", Fields{"bpm": 120})

	line := stdout.String()
	want := "bpm=120 component=audio_analyzer path=a.wav"
	if !strings.Contains(line, want) {
		t.Errorf("line %q does not contain %q", line, want)
	}

	// The parent must not see the child's fields
	stdout.Reset()
	logger.Info("parent")
	if strings.Contains(stdout.String(), "component=") {
		t.Errorf("parent logger leaked child fields: %q", stdout.String())
	}
}

func TestWithContextExtractsFields(t *testing.T) {
	logger, stdout, _ := newTestLogger(t)

	ctx := ContextWithFields(context.Background(), Fields{"request_id": "abc"})
	logger.WithContext(ctx).Info("analyzing")

	if !strings.Contains(stdout.String(), "request_id=abc") {
		t.Errorf("context fields missing: %q", stdout.String())
	}
}

func TestFatalCallsExit(t *testing.T) {
	logger, _, stderr := newTestLogger(t)
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal(errors.New("disk gone"), "cannot continue")

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "[FATAL] cannot continue: disk gone") {
		t.Errorf("fatal line missing: %q", stderr.String())
	}
}

func TestColorsWrapWarnings(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewLogger(&stdout, &stderr, true)

	logger.Warn("careful")
	if !strings.Contains(stderr.String(), "\x1b[") {
		t.Errorf("expected ANSI escape in colored warning, got %q", stderr.String())
	}
}

func TestSetGlobalLoggerNilInstallsNoOp(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	SetGlobalLogger(nil)
	if _, ok := GetGlobalLogger().(*NoOpLogger); !ok {
		t.Fatalf("global logger = %T, want *NoOpLogger", GetGlobalLogger())
	}
	// Must not panic
	Info("ignored", Fields{"k": "v"})
}
