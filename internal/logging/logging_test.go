package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"trace", TraceLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"Warn", WarnLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
		{"  info  ", InfoLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInit_WritesStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, Output: &buf})

	Info().Str("session_id", "abc").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"session_id":"abc"`) {
		t.Errorf("expected session_id field in output, got %q", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, Output: &buf})

	Debug().Msg("dropped")
	Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("debug line should have been filtered, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn line missing, got %q", out)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, Output: &buf})

	log := Component("router")
	log.Info().Msg("ready")

	if !strings.Contains(buf.String(), `"component":"router"`) {
		t.Errorf("expected component field, got %q", buf.String())
	}
}
