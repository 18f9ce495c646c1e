package outbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/wahub/internal/types"
)

// Outbox validates send requests, resolves aliases, and queues them on
// per-peer lanes for the sender.
type Outbox struct {
	queue   *Queue
	resolve func() types.PeerResolver
}

var _ Submitter = (*Outbox)(nil)

// New wires a queue to sender. concurrency bounds parallel sends across
// peers.
func New(sender *Sender, resolve func() types.PeerResolver, concurrency int64) *Outbox {
	q := NewQueue(concurrency)
	q.SetProcessor(sender.Deliver)
	return &Outbox{queue: q, resolve: resolve}
}

// Start begins processing. Stop must be called to release the lanes.
func (o *Outbox) Start(ctx context.Context) {
	o.queue.Start(ctx)
}

// Stop cancels in-flight work and waits for the lanes to exit.
func (o *Outbox) Stop() {
	o.queue.Stop()
}

// Queue exposes the underlying lanes.
func (o *Outbox) Queue() *Queue {
	return o.queue
}

// Submit queues req for delivery.
func (o *Outbox) Submit(req *types.SendRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	number := o.resolve().Number(req.Target())
	job := NewJob(number, req.Text)
	if err := o.queue.Enqueue(job); err != nil {
		return nil, fmt.Errorf("enqueue send: %w", err)
	}
	slog.Debug("send queued", "id", job.ID, "to", number)
	return job, nil
}
