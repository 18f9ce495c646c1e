// Package replicator copies the worker's message history into the local
// event logs and then follows it live, persisting a cursor after every
// batch so a restart resumes where the last run stopped.
package replicator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/user/wahub/internal/metrics"
	"github.com/user/wahub/internal/types"
	"github.com/user/wahub/internal/worker"
)

// Source is the upstream batch API.
type Source interface {
	Pull(ctx context.Context, since int64, limit int) (*worker.Page, error)
	Poll(ctx context.Context, since int64, timeout time.Duration, limit int) (*worker.Page, error)
}

// CursorStore persists the replication position.
type CursorStore interface {
	Load() (since int64, ok bool)
	Save(since int64) error
}

// ResolverFunc returns the current peer resolver. It is called once per
// batch so alias edits apply without a restart.
type ResolverFunc func() types.PeerResolver

// Options tunes the loop.
type Options struct {
	Limit     int
	LPTimeout time.Duration
	Backoff   Backoff
}

// Replicator runs catch-up then live replication. Run it from a single
// goroutine; Since may be read from anywhere.
type Replicator struct {
	source  Source
	sink    types.EventSink
	cursor  CursorStore
	resolve ResolverFunc
	opts    Options

	since atomic.Int64
}

// New creates a replicator. Zero options take defaults: 200 per batch,
// 25s long polls, DefaultBackoff.
func New(source Source, sink types.EventSink, cursor CursorStore, resolve ResolverFunc, opts Options) *Replicator {
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	if opts.LPTimeout <= 0 {
		opts.LPTimeout = 25 * time.Second
	}
	if opts.Backoff.InitialDelay <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Replicator{
		source:  source,
		sink:    sink,
		cursor:  cursor,
		resolve: resolve,
		opts:    opts,
	}
}

// Since returns the current in-memory cursor.
func (r *Replicator) Since() int64 {
	return r.since.Load()
}

// Resume loads the persisted cursor. Without one, replication starts
// from zero.
func (r *Replicator) Resume() int64 {
	since, ok := r.cursor.Load()
	if !ok {
		since = 0
	}
	r.since.Store(since)
	metrics.SetCursor(since)
	slog.Info("replication resuming", "since", since, "persisted", ok)
	return since
}

// Run resumes from the persisted cursor, catches up, and then follows
// live until ctx is cancelled. It returns nil on cancellation.
func (r *Replicator) Run(ctx context.Context) error {
	r.Resume()
	if err := r.CatchUp(ctx); err != nil {
		return ignoreCanceled(err)
	}
	return ignoreCanceled(r.Live(ctx))
}

// CatchUp pulls batches until the worker reports an empty one. Failed
// requests are retried after a backoff; only a cancelled ctx stops it
// early.
func (r *Replicator) CatchUp(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		since := r.Since()
		page, err := r.source.Pull(ctx, since, r.opts.Limit)
		if err != nil {
			attempt++
			if werr := r.retry(ctx, metrics.PhaseCatchUp, since, attempt, err); werr != nil {
				return werr
			}
			continue
		}
		attempt = 0

		r.apply(metrics.PhaseCatchUp, page)
		if page.Count == 0 {
			slog.Info("catch-up complete", "since", r.Since())
			return nil
		}
	}
}

// Live long-polls for new batches until ctx is cancelled, which is the
// only way it returns.
func (r *Replicator) Live(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		since := r.Since()
		page, err := r.source.Poll(ctx, since, r.opts.LPTimeout, r.opts.Limit)
		if err != nil {
			attempt++
			if werr := r.retry(ctx, metrics.PhaseLive, since, attempt, err); werr != nil {
				return werr
			}
			continue
		}
		attempt = 0
		r.apply(metrics.PhaseLive, page)
	}
}

func (r *Replicator) retry(ctx context.Context, phase string, since int64, attempt int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	metrics.ReplicationFailed(phase)
	slog.Warn("replication request failed", "phase", phase, "since", since, "attempt", attempt, "error", err)
	return r.opts.Backoff.Wait(ctx, attempt)
}

// apply records every event in page, then advances and persists the
// cursor.
func (r *Replicator) apply(phase string, page *worker.Page) {
	var resolver types.PeerResolver = identity{}
	if r.resolve != nil {
		resolver = r.resolve()
	}
	events := worker.DecodePayloads(page.Messages, resolver)
	for _, ev := range events {
		r.sink.Record(ev)
	}
	metrics.PageReplayed(phase)

	since := r.Since()
	if page.NextSince < since {
		slog.Warn("ignoring cursor regression", "phase", phase, "since", since, "next_since", page.NextSince)
	} else {
		since = page.NextSince
		r.since.Store(since)
		metrics.SetCursor(since)
	}

	if err := r.cursor.Save(since); err != nil {
		slog.Error("failed to persist cursor", "since", since, "error", err)
	}
	slog.Debug("batch applied", "phase", phase, "events", len(events), "count", page.Count, "since", since)
}

// identity keys peers by their raw number.
type identity struct{}

func (identity) PeerKey(number string) string { return number }

func (identity) Number(aliasOrNumber string) string { return aliasOrNumber }

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
