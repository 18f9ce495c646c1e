// internal/eventlog/pool.go
package eventlog

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/wahub/internal/metrics"
	"github.com/user/wahub/internal/types"
)

// ErrInvalidKey is returned for shard keys that cannot name a file
// inside the pool directory.
var ErrInvalidKey = errors.New("invalid shard key")

// Pool holds one lazily opened Log per key, named
// <dir>/<prefix><key><suffix>. Handles stay open until Close.
type Pool struct {
	dir    string
	prefix string
	suffix string
	policy RotationPolicy

	mu   sync.Mutex
	logs map[string]*Log
}

// NewPool creates an empty pool. Nothing is opened until the first
// Append for a key.
func NewPool(dir, prefix, suffix string, policy RotationPolicy) *Pool {
	return &Pool{
		dir:    dir,
		prefix: prefix,
		suffix: suffix,
		policy: policy,
		logs:   make(map[string]*Log),
	}
}

// PathFor returns the shard path for key.
func (p *Pool) PathFor(key string) string {
	return ShardPath(p.dir, p.prefix, key, p.suffix)
}

// ShardPath names the shard file for key. Writers and readers both use
// it so they agree on the layout.
func ShardPath(dir, prefix, key, suffix string) string {
	return filepath.Join(dir, prefix+key+suffix)
}

// ValidKey reports whether key can be used as a shard name.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, "/\\\x00")
}

// get returns the Log for key, opening it on first use. Open failures
// are not cached, so a later append retries.
func (p *Pool) get(key string) (*Log, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.logs[key]; ok {
		return l, nil
	}
	l, err := openLog(p.PathFor(key), metrics.ShardPeer, p.policy)
	if err != nil {
		return nil, err
	}
	p.logs[key] = l
	return l, nil
}

// Append writes ev to the shard for key.
func (p *Pool) Append(key string, ev *types.Event) error {
	l, err := p.get(key)
	if err != nil {
		return err
	}
	return l.Append(ev)
}

// Keys returns the keys with an open shard, sorted.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.logs))
	for k := range p.logs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every open shard.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, l := range p.logs {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close shard %s: %w", key, err))
		}
		delete(p.logs, key)
	}
	return errors.Join(errs...)
}
