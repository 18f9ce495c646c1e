// internal/eventlog/journal.go
package eventlog

import (
	"errors"
	"log/slog"
	"time"

	"github.com/user/wahub/internal/metrics"
	"github.com/user/wahub/internal/types"
)

// Journal writes every record to the global log and to the sender's or
// recipient's shard. The global log is the source of truth; shard
// failures only drop the shard copy.
type Journal struct {
	global *Log
	peers  *Pool
	now    func() time.Time
}

var _ types.EventSink = (*Journal)(nil)

// NewJournal wires a global log and a peer pool. peers may be nil.
func NewJournal(global *Log, peers *Pool) *Journal {
	return &Journal{global: global, peers: peers, now: time.Now}
}

// Record stamps ev with the current time when it has none and appends
// it everywhere. Failures are logged, never returned.
func (j *Journal) Record(ev *types.Event) {
	if ev.TS == 0 {
		ev.TS = j.now().UnixMilli()
	}

	if err := j.global.Append(ev); err != nil {
		slog.Error("append to global log failed", "path", j.global.Path(), "error", err)
		metrics.AppendFailed(metrics.ShardGlobal)
	} else {
		metrics.EventWritten(metrics.ShardGlobal, string(ev.Kind))
	}

	if j.peers == nil {
		return
	}
	if err := j.peers.Append(ev.Peer, ev); err != nil {
		slog.Error("append to peer log failed, record dropped for shard",
			"peer", ev.Peer,
			"error", err,
		)
		metrics.AppendFailed(metrics.ShardPeer)
		return
	}
	metrics.EventWritten(metrics.ShardPeer, string(ev.Kind))
}

// Shards returns the peer keys with an open shard.
func (j *Journal) Shards() []string {
	if j.peers == nil {
		return nil
	}
	return j.peers.Keys()
}

// GlobalPath returns the live path of the global log.
func (j *Journal) GlobalPath() string {
	return j.global.Path()
}

// Close closes the global log and every shard.
func (j *Journal) Close() error {
	var errs []error
	if err := j.global.Close(); err != nil {
		errs = append(errs, err)
	}
	if j.peers != nil {
		if err := j.peers.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
