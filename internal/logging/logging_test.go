package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestAutoFormatUsesJSONOffTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "auto").Info("run finished", "run_id", "r1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "run finished" || entry["run_id"] != "r1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"ERROR":   "ERROR",
		"warning": "WARN",
		" info ":  "INFO",
		"":        "DEBUG",
	}
	for in, want := range cases {
		if got := levelFromString(in).String(); got != want {
			t.Errorf("levelFromString(%q) = %s, want %s", in, got, want)
		}
	}
}
