package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock(l *Logger) *Logger {
	l.sink.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 15, 250e6, time.UTC) }
	return l
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"silent", LevelSilent, false},
		{"off", LevelSilent, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, err=%t", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
	if s := Level(9).String(); s != "Level(9)" {
		t.Errorf("out of range level = %q", s)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("logfmt"); err == nil {
		t.Error("ParseFormat accepted logfmt")
	}
}

func TestLoggerTextLine(t *testing.T) {
	var buf bytes.Buffer
	l := fixedClock(NewLogger(WithOutput(&buf), WithName("backend")))

	l.Info("session opened", Fields{"node": "alice", "remote": "10.0.0.7:5100", "note": "two words"})

	want := `09:30:15.250 INFO  [backend] session opened node=alice note="two words" remote=10.0.0.7:5100` + "\n"
	if buf.String() != want {
		t.Errorf("got  %q\nwant %q", buf.String(), want)
	}
}

func TestLoggerJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := fixedClock(NewLogger(WithOutput(&buf), WithFormat(FormatJSON), WithName("link")))

	l.Warn("handshake failed", Fields{"error": errors.New("bad mac"), "attempt": 2})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not JSON: %v: %s", err, buf.String())
	}
	want := map[string]any{
		"level":   "WARN",
		"msg":     "handshake failed",
		"logger":  "link",
		"error":   "bad mac",
		"attempt": float64(2),
		"time":    "2026-03-01T09:30:15.25Z",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLoggerJSONUnencodable(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(&buf), WithFormat(FormatJSON))

	l.Error("bad field", Fields{"ch": make(chan int)})

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("fallback entry is not JSON: %v", err)
	}
	if entry["msg"] != "bad field" || !strings.HasPrefix(entry["error"], "unencodable fields") {
		t.Errorf("fallback entry = %v", entry)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))

	l.Debug("qubit allocated")
	l.Info("qubit measured")
	l.Warn("recv timed out")
	l.Error("link broken")

	out := buf.String()
	if strings.Contains(out, "qubit") {
		t.Errorf("below-level entries written:\n%s", out)
	}
	if !strings.Contains(out, "recv timed out") || !strings.Contains(out, "link broken") {
		t.Errorf("missing entries:\n%s", out)
	}

	if l.Enabled(LevelInfo) || !l.Enabled(LevelError) {
		t.Error("Enabled disagrees with the level")
	}
	if NewLogger(WithLevel(LevelDebug)).Enabled(LevelSilent) {
		t.Error("silent is never an entry level")
	}
}

func TestLoggerDerivedShareSink(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(WithOutput(&buf), WithFields(Fields{"app": "qauth"}))
	child := root.Named("zawadzki").With(Fields{"role": "verifier"})
	grandchild := child.Named("nonce")

	root.SetLevel(LevelError)
	grandchild.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("SetLevel on the root did not reach derived loggers: %s", buf.String())
	}

	root.SetLevel(LevelDebug)
	grandchild.Debug("received", Fields{"bits": 24})
	out := buf.String()
	for _, want := range []string{"[zawadzki.nonce]", "app=qauth", "role=verifier", "bits=24"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}

	// Deriving must not leak fields back into the parent.
	buf.Reset()
	root.Info("plain")
	if strings.Contains(buf.String(), "role=") {
		t.Errorf("parent picked up child fields: %s", buf.String())
	}
}

func TestLoggerCallFieldsOverride(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(&buf)).With(Fields{"phase": "setup"})

	l.Info("step", Fields{"phase": "nonce"})
	l.Info("step")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasSuffix(lines[0], "phase=nonce") || !strings.HasSuffix(lines[1], "phase=setup") {
		t.Errorf("override leaked across calls: %q", lines)
	}
}

func TestLoggerColor(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(WithOutput(&buf), WithColor(true)).Error("boom")
	if !strings.Contains(buf.String(), "\033[31mERROR\033[0m") {
		t.Errorf("no color codes in %q", buf.String())
	}

	buf.Reset()
	NewLogger(WithOutput(&buf)).Error("boom")
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("color without WithColor: %q", buf.String())
	}
}

func TestLoggerConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(WithOutput(&buf))

	var wg sync.WaitGroup
	for i := range 4 {
		l := root.With(Fields{"worker": i})
		wg.Go(func() {
			for range 50 {
				l.Info("tick")
			}
		})
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 200 {
		t.Fatalf("got %d lines, want 200", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "INFO  tick worker=") {
			t.Fatalf("interleaved line: %q", line)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := GetLogger()
	t.Cleanup(func() { SetLogger(prev) })

	var buf bytes.Buffer
	SetLogger(TestLogger(&buf))
	GetLogger().Debug("through global")
	if !strings.Contains(buf.String(), "through global") {
		t.Errorf("global logger not replaced: %q", buf.String())
	}
}

func TestNullLogger(t *testing.T) {
	l := NullLogger()
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		if l.Enabled(level) {
			t.Errorf("NullLogger enabled at %v", level)
		}
	}
	l.Error("discarded")
}
