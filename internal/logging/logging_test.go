package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"cursoragent/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_ConsoleRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, closeFn, err := New(config.Logging{Level: "warning", Target: config.TargetConsole}, "agent", &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") || !strings.Contains(out, "agent") {
		t.Fatalf("output = %q", out)
	}
}

func TestNew_Both(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.log")
	var buf bytes.Buffer
	l, closeFn, err := New(config.Logging{Target: config.TargetBoth, File: path}, "agent", &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("row processed")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "row processed") || !strings.Contains(buf.String(), "row processed") {
		t.Fatalf("file = %q console = %q", b, buf.String())
	}
}

func TestNew_FileOnlyWritesNothingToConsole(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.log")
	var buf bytes.Buffer
	l, closeFn, err := New(config.Logging{Target: config.TargetFile, File: path}, "agent", &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("x")
	_ = closeFn()
	if buf.Len() != 0 {
		t.Fatalf("console output = %q, want empty", buf.String())
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := New(config.Logging{Level: "loud"}, "a", nil); err == nil {
		t.Fatalf("New(bad level) error = nil")
	}
	if _, _, err := New(config.Logging{Target: "syslog"}, "a", nil); err == nil {
		t.Fatalf("New(bad target) error = nil")
	}
	bad := filepath.Join(t.TempDir(), "missing", "agent.log")
	if _, _, err := New(config.Logging{Target: config.TargetFile, File: bad}, "a", nil); err == nil {
		t.Fatalf("New(unwritable file) error = nil")
	}
}
