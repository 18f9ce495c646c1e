// internal/eventlog/log.go
package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/wahub/internal/metrics"
	"github.com/user/wahub/internal/types"
)

// Log is a single append-only JSONL file with size-based rotation.
// Appends and rotations are serialized by one mutex.
type Log struct {
	path   string
	shard  string
	policy RotationPolicy
	now    func() time.Time

	mu sync.Mutex
	f  *os.File
}

// Open creates the parent directory if needed and opens path for
// appending.
func Open(path string, policy RotationPolicy) (*Log, error) {
	return openLog(path, metrics.ShardGlobal, policy)
}

func openLog(path, shard string, policy RotationPolicy) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &Log{
		path:   path,
		shard:  shard,
		policy: policy,
		now:    time.Now,
		f:      f,
	}, nil
}

// Path returns the live file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes ev as one JSON line, syncs it to disk, then rotates the
// file if it reached the threshold.
func (l *Log) Append(ev *types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	// A failed reopen after rotation leaves f nil; retry here.
	if l.f == nil {
		f, err := openAppend(l.path)
		if err != nil {
			return err
		}
		l.f = f
	}

	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}

	l.rotateIfDue()
	return nil
}

// rotateIfDue archives the live file once it reaches the threshold.
// Rename failures are logged and the writer stays on the live path.
// Caller must hold l.mu.
func (l *Log) rotateIfDue() {
	if l.policy.Threshold <= 0 {
		return
	}
	info, err := l.f.Stat()
	if err != nil {
		slog.Warn("stat event log", "path", l.path, "error", err)
		return
	}
	if !l.policy.due(info.Size()) {
		return
	}

	archive := archivePath(l.path, l.policy.stamp(l.now()))
	if err := l.f.Close(); err != nil {
		slog.Warn("close event log before rotation", "path", l.path, "error", err)
	}
	l.f = nil

	if err := os.Rename(l.path, archive); err != nil {
		slog.Warn("log rotation failed, continuing on live file",
			"path", l.path,
			"archive", archive,
			"error", err,
		)
		metrics.RotationFailed(l.shard)
	} else {
		slog.Info("log rotated", "path", l.path, "archive", archive, "size", info.Size())
		metrics.Rotated(l.shard)
	}

	f, err := openAppend(l.path)
	if err != nil {
		slog.Error("reopen event log after rotation", "path", l.path, "error", err)
		return
	}
	l.f = f
}

// Close releases the file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
