// Package eventlog provides the append-only JSONL event logs: a single
// rotating log, a pool of lazily opened per-peer shards, and the Journal
// that fans each record out to both.
//
// Rotation renames the live file to "<path>.<stamp>" and opens a fresh
// file at the original path. Readers follow by re-statting the path; the
// writer never signals them.
package eventlog

import (
	"fmt"
	"os"
	"time"

	"github.com/ncruces/go-strftime"
)

// DefaultTimeFormat is the strftime layout of archive suffixes.
const DefaultTimeFormat = "%Y%m%d-%H%M%S"

// RotationPolicy controls size-based rotation. A zero Threshold disables
// rotation.
type RotationPolicy struct {
	Threshold  int64
	TimeFormat string
}

func (p RotationPolicy) due(size int64) bool {
	return p.Threshold > 0 && size >= p.Threshold
}

func (p RotationPolicy) stamp(t time.Time) string {
	layout := p.TimeFormat
	if layout == "" {
		layout = DefaultTimeFormat
	}
	return strftime.Format(layout, t)
}

// archivePath picks "<path>.<stamp>", adding a -N counter when an
// archive of that name already exists so none is ever overwritten. Any
// Lstat result other than "exists" returns the candidate and leaves the
// error to the rename.
func archivePath(path, stamp string) string {
	base := path + "." + stamp
	if _, err := os.Lstat(base); err != nil {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, err := os.Lstat(candidate); err != nil {
			return candidate
		}
	}
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return f, nil
}
