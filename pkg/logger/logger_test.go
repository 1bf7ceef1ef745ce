package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func TestNewLogger_JSONRenamesTimeKey(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(Options{Level: "debug", Format: "json", Output: &buf})

	l.LogAttrs(context.Background(), slog.LevelInfo, "hello", slog.String("k", "v"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if _, ok := record["timestamp"]; !ok {
		t.Errorf("expected timestamp key, got %v", record)
	}
	if record["k"] != "v" {
		t.Errorf("expected k=v, got %v", record["k"])
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(Options{Level: "warn", Format: "text", Output: &buf})

	l.LogAttrs(context.Background(), slog.LevelInfo, "dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestErr(t *testing.T) {
	if got := Err(errors.New("boom")).Value.String(); got != "boom" {
		t.Errorf("expected boom, got %q", got)
	}
	if got := Err(nil).Value.String(); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
