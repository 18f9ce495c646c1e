// internal/eventlog/prune.go
package eventlog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/wahub/internal/metrics"
)

// Pruner removes archive files older than MaxAge. Live files are never
// touched: only names of the form "<live>.<stamp>" qualify.
type Pruner struct {
	// GlobalPath is the live path of the global log.
	GlobalPath string

	// PeerDir, PeerPrefix and PeerSuffix describe the shard naming of
	// the peer pool. Peer archives are skipped when PeerSuffix is empty,
	// since "<prefix><key>.<stamp>" cannot be told apart from a live
	// shard whose key contains a dot.
	PeerDir    string
	PeerPrefix string
	PeerSuffix string

	MaxAge time.Duration
}

// Prune deletes qualifying archives whose modification time is before
// now-MaxAge and returns how many were removed.
func (p *Pruner) Prune(now time.Time) (int, error) {
	if p.MaxAge <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-p.MaxAge)

	var (
		removed int
		errs    []error
	)
	visit := func(dir string, match func(name string) bool) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("read archive dir: %w", err))
			}
			return
		}
		for _, entry := range entries {
			if entry.IsDir() || !match(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("remove archive: %w", err))
				continue
			}
			slog.Info("archive pruned", "path", path, "mod_time", info.ModTime())
			removed++
		}
	}

	if p.GlobalPath != "" {
		base := filepath.Base(p.GlobalPath)
		visit(filepath.Dir(p.GlobalPath), func(name string) bool {
			return strings.HasPrefix(name, base+".") && len(name) > len(base)+1
		})
	}
	if p.PeerDir != "" && p.PeerSuffix != "" {
		visit(p.PeerDir, func(name string) bool {
			return isPeerArchive(name, p.PeerPrefix, p.PeerSuffix)
		})
	}

	metrics.ArchivesPruned(removed)
	return removed, errors.Join(errs...)
}

// isPeerArchive matches "<prefix><key><suffix>.<stamp>" with a
// non-empty key and stamp.
func isPeerArchive(name, prefix, suffix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := name[len(prefix):]
	i := strings.LastIndex(rest, suffix+".")
	return i > 0 && i+len(suffix)+1 < len(rest)
}
