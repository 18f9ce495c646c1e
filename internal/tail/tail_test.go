package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/wahub/internal/alias"
	"github.com/user/wahub/internal/eventlog"
	"github.com/user/wahub/internal/filter"
	"github.com/user/wahub/internal/types"
)

func record(ts int64, text string) string {
	return fmt.Sprintf(`{"ts":%d,"kind":"received","peer":"max","text":%q}`, ts, text)
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatal(err)
	}
}

// startTailer opens path at offset 0 for driving poll directly.
func startTailer(t *testing.T, path string, opts Options) (*Tailer, *emitter, *bytes.Buffer) {
	t.Helper()
	tl := New(path, nil, opts)
	ok, err := tl.open()
	if err != nil || !ok {
		t.Fatalf("open: ok=%v err=%v", ok, err)
	}
	t.Cleanup(tl.close)
	var buf bytes.Buffer
	return tl, newEmitter(&buf, false), &buf
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimSuffix(buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestPollDrainsOldFileOnRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, record(1, "one")+"\n")

	tl, out, buf := startTailer(t, path, Options{})
	if _, _, err := tl.poll(out); err != nil {
		t.Fatal(err)
	}

	// Written after the last poll, then renamed away before the next one.
	appendFile(t, path, record(2, "two")+"\n")
	if err := os.Rename(path, path+".20260101-000000"); err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, record(3, "three")+"\n")

	if _, _, err := tl.poll(out); err != nil {
		t.Fatal(err)
	}

	got := lines(buf)
	want := []string{record(1, "one"), record(2, "two"), record(3, "three")}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
	if tl.Rotations() != 1 {
		t.Errorf("expected 1 rotation, got %d", tl.Rotations())
	}
}

func TestPollFileMissingBetweenRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, "")

	tl, out, buf := startTailer(t, path, Options{})
	appendFile(t, path, record(1, "one")+"\n")
	if err := os.Rename(path, path+".old"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := tl.poll(out); err != nil {
		t.Fatal(err)
	}
	if got := lines(buf); len(got) != 1 {
		t.Fatalf("expected old handle drained, got %v", got)
	}

	appendFile(t, path, record(2, "two")+"\n")
	if _, _, err := tl.poll(out); err != nil {
		t.Fatal(err)
	}
	if got := lines(buf); len(got) != 2 {
		t.Errorf("expected new file read from start, got %v", got)
	}
}

func TestPollTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, record(1, "one")+"\n"+record(2, "two")+"\n")

	tl, out, buf := startTailer(t, path, Options{})
	if _, _, err := tl.poll(out); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(record(3, "3")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tl.poll(out); err != nil {
		t.Fatal(err)
	}

	got := lines(buf)
	if len(got) != 3 || got[2] != record(3, "3") {
		t.Errorf("expected truncated file re-read, got %v", got)
	}
	if tl.Rotations() != 1 {
		t.Errorf("expected truncation counted, got %d", tl.Rotations())
	}
}

func TestPollPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, "")
	tl, out, buf := startTailer(t, path, Options{})

	full := record(1, "split")
	appendFile(t, path, full[:10])
	n, _, err := tl.poll(out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || tl.offset != 0 {
		t.Fatalf("partial line should not be consumed, n=%d offset=%d", n, tl.offset)
	}

	appendFile(t, path, full[10:]+"\n")
	if _, _, err := tl.poll(out); err != nil {
		t.Fatal(err)
	}
	if got := lines(buf); len(got) != 1 || got[0] != full {
		t.Errorf("expected completed line, got %v", got)
	}
}

func TestPollFollowsRotatingLog(t *testing.T) {
	dir := t.TempDir()
	line := record(1, "x")
	l, err := eventlog.Open(filepath.Join(dir, "events.jsonl"), eventlog.RotationPolicy{Threshold: int64(2 * (len(line) + 1))})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Append(types.NewReceived(1, "max", "x")); err != nil {
		t.Fatal(err)
	}
	tl, out, buf := startTailer(t, l.Path(), Options{})

	for i := int64(1); i <= 7; i++ {
		if i > 1 {
			if err := l.Append(types.NewReceived(i, "max", "x")); err != nil {
				t.Fatal(err)
			}
		}
		if _, _, err := tl.poll(out); err != nil {
			t.Fatal(err)
		}
	}

	got := lines(buf)
	if len(got) != 7 {
		t.Fatalf("expected all 7 records across rotations, got %d: %v", len(got), got)
	}
	for i, g := range got {
		if want := record(int64(i+1), "x"); g != want {
			t.Errorf("line %d: expected %s, got %s", i, want, g)
		}
	}
	if got := tl.Rotations(); got != 3 {
		t.Errorf("expected 3 rotations, got %d", got)
	}
}

func TestRunOnceTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, record(1, "old")+"\n")

	var buf bytes.Buffer
	tl := New(path, nil, Options{Mode: ModeOnce, Timeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond, JSONArray: true})
	err := tl.Run(context.Background(), &buf)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if buf.String() != "[]\n" {
		t.Errorf("expected empty array, got %q", buf.String())
	}
	if tl.State() != StateTerminated {
		t.Errorf("expected terminated, got %s", tl.State())
	}
}

func TestRunOnceMatchesNewRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, record(1, "old hello")+"\n")

	f, err := filter.New(filter.Options{Grep: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	tl := New(path, f, Options{Mode: ModeOnce, Timeout: 5 * time.Second, PollInterval: 5 * time.Millisecond})

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- tl.Run(context.Background(), &buf) }()

	waitForState(t, tl, StateEOFIdle)
	appendFile(t, path, record(2, "bye")+"\n"+record(3, "hello again")+"\n"+record(4, "hello late")+"\n")

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != record(3, "hello again") {
		t.Errorf("expected first new match only, got %q", got)
	}
}

func TestRunWaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	tl := New(path, nil, Options{Mode: ModeOnce, Timeout: 5 * time.Second, PollInterval: 5 * time.Millisecond})
	if tl.State() != StateStarting {
		t.Fatalf("expected starting before Run, got %s", tl.State())
	}

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- tl.Run(context.Background(), &buf) }()

	// Reached only after an open has failed.
	waitForState(t, tl, StateWaitingForFile)
	appendFile(t, path, record(1, "first")+"\n")

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != record(1, "first") {
		t.Errorf("file created after start should be read from the beginning, got %q", got)
	}
}

func TestRunOnceTimeoutWhileWaiting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.jsonl")
	tl := New(path, nil, Options{Mode: ModeOnce, Timeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	if err := tl.Run(context.Background(), &bytes.Buffer{}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRunRequireFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonl")
	tl := New(path, nil, Options{Mode: ModeFollow, RequireFile: true})
	if err := tl.Run(context.Background(), &bytes.Buffer{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunWindowPreScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	var data strings.Builder
	for ts := int64(1); ts <= 5; ts++ {
		data.WriteString(record(ts, "x") + "\n")
		if ts == 2 {
			data.WriteString("garbage\n{\"ts\":9,\"kind\":\"deleted\",\"peer\":\"max\"}\n\n")
		}
	}
	appendFile(t, path, data.String())

	since := int64(3)
	f, err := filter.New(filter.Options{SinceTS: &since})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tl := New(path, f, Options{Mode: ModeWindow, Window: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond, JSONArray: true})
	if err := tl.Run(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}

	want := "[" + record(3, "x") + "," + record(4, "x") + "," + record(5, "x") + "]\n"
	if buf.String() != want {
		t.Errorf("expected %s, got %s", want, buf.String())
	}
}

func TestRunWindowExactness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, "")

	tl := New(path, nil, Options{Mode: ModeWindow, Window: 300 * time.Millisecond, PollInterval: 10 * time.Millisecond})

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- tl.Run(context.Background(), &buf) }()

	waitForState(t, tl, StateEOFIdle)
	time.Sleep(50 * time.Millisecond)
	appendFile(t, path, record(1, "inside")+"\n")

	time.Sleep(350 * time.Millisecond)
	appendFile(t, path, record(2, "after")+"\n")

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("window did not close")
	}
	if got := buf.String(); got != record(1, "inside")+"\n" {
		t.Errorf("expected only the record inside the window, got %q", got)
	}
}

func TestRunSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, "")

	tl := New(path, nil, Options{Mode: ModeFollow, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf safeBuffer
	done := make(chan error, 1)
	go func() { done <- tl.Run(ctx, &buf) }()

	waitForState(t, tl, StateEOFIdle)
	appendFile(t, path, "not json\n"+record(1, "a")+"\n[1]\n"+`{"ts":2,"peer":"max"}`+"\n"+record(3, "b")+"\n")

	deadline := time.Now().Add(5 * time.Second)
	for strings.Count(buf.String(), "\n") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("follow should end cleanly on cancel, got %v", err)
	}
	if got := buf.String(); got != record(1, "a")+"\n"+record(3, "b")+"\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestResolvePeerPath(t *testing.T) {
	book, err := alias.Parse([]byte(`{"max": "4915551234"}`))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		peer string
		want string
	}{
		{"4915551234", "/data/events.max.jsonl"},
		{"max", "/data/events.max.jsonl"},
		{"4910000000", "/data/events.4910000000.jsonl"},
	}
	for _, tt := range tests {
		got, err := ResolvePeerPath("/data", "events.", ".jsonl", book, tt.peer)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.peer, tt.want, got)
		}
	}

	if _, err := ResolvePeerPath("/data", "events.", ".jsonl", book, "../etc"); !errors.Is(err, eventlog.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func waitForState(t *testing.T, tl *Tailer, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for tl.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("tailer never reached %s, stuck in %s", want, tl.State())
		}
		time.Sleep(time.Millisecond)
	}
}
