package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_PlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	log := slog.New(h)

	log.Info("http.request", "method", "GET", "path", "/healthz", "status", 200, "duration_ms", int64(3))

	line := buf.String()
	for _, want := range []string{"msg=http.request", "method=GET", "path=/healthz", "status=200", "duration=3ms"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color disabled but escapes present: %q", line)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info enabled under warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error disabled under warn level")
	}
}

func TestPrettyHandler_BoardKeysDimmed(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, true)
	log := slog.New(h)

	log.Info("broker.board.allocate", "user", "alice", "board", "10.0.0.7:41000")

	line := buf.String()
	if !strings.Contains(line, ansiDim+"10.0.0.7:41000"+ansiReset) {
		t.Fatalf("board address not dimmed: %q", line)
	}
	plain := stripANSI(line)
	for _, want := range []string{"msg=broker.board.allocate", "user=alice", "board=10.0.0.7:41000"} {
		if !strings.Contains(plain, want) {
			t.Fatalf("line %q missing %q", plain, want)
		}
	}
}

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, false)
	log := slog.New(h).WithGroup("db")

	log.Info("query", "table", "jobs")

	line := buf.String()
	if !strings.Contains(line, "db.table=jobs") {
		t.Fatalf("line %q missing grouped attr", line)
	}
}
