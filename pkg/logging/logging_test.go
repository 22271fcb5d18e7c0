package logging_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/logging"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   logging.LevelDebug,
		" WARN ":  logging.LevelWarn,
		"warning": logging.LevelWarn,
		"error":   logging.LevelError,
		"":        logging.LevelInfo,
		"bogus":   logging.LevelInfo,
	}
	for in, want := range cases {
		if got := logging.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, logging.LevelInfo, "json")
	logger.Debug("hidden")
	logger.Info("shown", slog.String("component", "test"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record leaked at info level: %s", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("expected JSON attribute in output, got %s", out)
	}
}
