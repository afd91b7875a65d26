package logging_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/signalnine/memtrace/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(&buf, "warn", true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "entry", "kmap")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "entry=kmap") {
		t.Errorf("missing warn line: %q", out)
	}
}

func TestFatalSingleLine(t *testing.T) {
	var buf bytes.Buffer
	logging.Fatal(&buf, errors.Join(errors.New("workload ls failed"), errors.New("failed to disable access tracking")))
	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected one line, got %q", out)
	}
	if !strings.Contains(out, "workload ls failed; failed to disable access tracking") {
		t.Errorf("unexpected diagnostic %q", out)
	}
}
