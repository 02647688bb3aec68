package logging

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestRecorderSharesEntriesAcrossWith(t *testing.T) {
	rec := NewRecorder()
	child := rec.With(String("component", "engine"))

	child.Error(context.Background(), "boom", Err(errors.New("bad magic")))
	rec.Info(context.Background(), "hello")

	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if got, ok := entries[0].Field("component"); !ok || got != "engine" {
		t.Fatalf("component field = %v (ok=%v), want engine", got, ok)
	}
	if got, _ := entries[0].Field("error"); got != "bad magic" {
		t.Fatalf("error field = %v, want bad magic", got)
	}
	if rec.Count(slog.LevelError) != 1 {
		t.Fatalf("Count(error) = %d, want 1", rec.Count(slog.LevelError))
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in).Level(); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(noopLogger); !ok {
		t.Fatalf("OrNoop(nil) did not return noop logger")
	}
	rec := NewRecorder()
	if OrNoop(rec) != Logger(rec) {
		t.Fatalf("OrNoop(rec) did not return rec")
	}
}
