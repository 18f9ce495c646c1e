package eventlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/wahub/internal/types"
)

func TestPoolLazyShards(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(dir, "events.", ".jsonl", RotationPolicy{})
	defer pool.Close()

	if keys := pool.Keys(); len(keys) != 0 {
		t.Fatalf("expected no open shards, got %v", keys)
	}
	if _, err := os.Stat(pool.PathFor("max")); !os.IsNotExist(err) {
		t.Fatal("shard file should not exist before first append")
	}

	for _, peer := range []string{"max", "anna", "max"} {
		if err := pool.Append(peer, types.NewReceived(1, peer, "hi")); err != nil {
			t.Fatal(err)
		}
	}

	keys := pool.Keys()
	if len(keys) != 2 || keys[0] != "anna" || keys[1] != "max" {
		t.Errorf("expected [anna max], got %v", keys)
	}
	if n := len(readLines(t, filepath.Join(dir, "events.max.jsonl"))); n != 2 {
		t.Errorf("expected 2 lines in max shard, got %d", n)
	}
	if n := len(readLines(t, filepath.Join(dir, "events.anna.jsonl"))); n != 1 {
		t.Errorf("expected 1 line in anna shard, got %d", n)
	}
}

func TestPoolInvalidKeys(t *testing.T) {
	pool := NewPool(t.TempDir(), "", "", RotationPolicy{})
	defer pool.Close()

	for _, key := range []string{"", ".", "..", "../escape", "a/b", `a\b`} {
		err := pool.Append(key, types.NewReceived(1, key, "x"))
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
	if !ValidKey("4915551234") || !ValidKey("a..b") {
		t.Error("expected plain keys to be valid")
	}
}

func TestPoolUnwritableDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A regular file in the path makes the directory impossible to create.
	pool := NewPool(filepath.Join(blocker, "peers"), "events.", ".jsonl", RotationPolicy{})
	defer pool.Close()

	if err := pool.Append("max", types.NewReceived(1, "max", "hi")); err == nil {
		t.Fatal("expected append error for unwritable dir")
	}
	if keys := pool.Keys(); len(keys) != 0 {
		t.Errorf("failed shard should not be cached, got %v", keys)
	}
}

func TestPoolIndependentRotation(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(dir, "events.", ".jsonl", RotationPolicy{Threshold: 1})
	defer pool.Close()

	if err := pool.Append("max", types.NewReceived(1, "max", "hi")); err != nil {
		t.Fatal(err)
	}
	if err := pool.Append("anna", types.NewReceived(2, "anna", "hi")); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"max", "anna"} {
		if archives := archivesOf(t, pool.PathFor(key)); len(archives) != 1 {
			t.Errorf("shard %s: expected 1 archive, got %v", key, archives)
		}
	}
}

func TestPoolRotationNameTooLongKeepsAppending(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(dir, "events.", ".jsonl", RotationPolicy{Threshold: 1})
	defer pool.Close()

	// The live name fits NAME_MAX, the stamped archive name does not.
	key := strings.Repeat("a", 240)

	done := make(chan error, 1)
	go func() {
		for i := int64(1); i <= 2; i++ {
			if err := pool.Append(key, types.NewReceived(i, key, "hi")); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("append blocked on a failing rotation")
	}

	if n := len(readLines(t, pool.PathFor(key))); n != 2 {
		t.Errorf("expected both records on the live shard, got %d", n)
	}
}

func TestJournalRecord(t *testing.T) {
	dir := t.TempDir()
	global, err := Open(filepath.Join(dir, "events.jsonl"), RotationPolicy{})
	if err != nil {
		t.Fatal(err)
	}
	pool := NewPool(dir, "events.", ".jsonl", RotationPolicy{})
	journal := NewJournal(global, pool)
	defer journal.Close()
	journal.now = fixedNow

	ev := types.NewReceived(0, "max", "hello")
	journal.Record(ev)
	if ev.TS != fixedNow().UnixMilli() {
		t.Errorf("expected journal to stamp ts, got %d", ev.TS)
	}

	// An invalid peer key still reaches the global log.
	journal.Record(types.NewStatus(5, "../oops", "failed"))

	if n := len(readLines(t, journal.GlobalPath())); n != 2 {
		t.Errorf("expected 2 global lines, got %d", n)
	}
	if n := len(readLines(t, pool.PathFor("max"))); n != 1 {
		t.Errorf("expected 1 line in max shard, got %d", n)
	}
	if shards := journal.Shards(); len(shards) != 1 || shards[0] != "max" {
		t.Errorf("expected [max], got %v", shards)
	}
}

func TestPrunerRemovesOldArchivesOnly(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour)

	files := map[string]time.Time{
		"events.jsonl":                       old, // live global
		"events.jsonl.20260101-000000":       old,
		"events.jsonl.20260509-000000":       now,
		"events.max.jsonl":                   old, // live shard
		"events.max.jsonl.20260101-000000":   old,
		"events.max.jsonl.20260101-000000-1": old,
		"state.json":                         old,
	}
	for name, mtime := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	p := &Pruner{
		GlobalPath: filepath.Join(dir, "events.jsonl"),
		PeerDir:    dir,
		PeerPrefix: "events.",
		PeerSuffix: ".jsonl",
		MaxAge:     7 * 24 * time.Hour,
	}
	removed, err := p.Prune(now)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("expected 3 archives removed, got %d", removed)
	}

	for _, keep := range []string{"events.jsonl", "events.jsonl.20260509-000000", "events.max.jsonl", "state.json"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Errorf("expected %s to be kept: %v", keep, err)
		}
	}
}

func TestPrunerDisabled(t *testing.T) {
	p := &Pruner{GlobalPath: filepath.Join(t.TempDir(), "events.jsonl")}
	removed, err := p.Prune(time.Now())
	if err != nil || removed != 0 {
		t.Errorf("expected no-op, got %d, %v", removed, err)
	}
}

func TestIsPeerArchive(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"events.max.jsonl.20260101-000000", true},
		{"events.max.jsonl", false},
		{"events.jsonl.20260101-000000", false},
		{"events..jsonl.x", false},
		{"other.max.jsonl.1", false},
		{"events.max.jsonl.", false},
	}
	for _, tt := range tests {
		if got := isPeerArchive(tt.name, "events.", ".jsonl"); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}
