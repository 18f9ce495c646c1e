package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/wahub/internal/metrics"
	"github.com/user/wahub/internal/state"
	"github.com/user/wahub/internal/types"
	"github.com/user/wahub/internal/worker"
)

// Client is the worker's send API.
type Client interface {
	Send(ctx context.Context, to, text string) (*worker.SendResult, error)
	PhoneID() string
}

// Sender delivers jobs one at a time and records each attempt in the
// meta log and the journal.
type Sender struct {
	client  Client
	meta    *state.MetaLog
	journal types.EventSink
	resolve func() types.PeerResolver
	limiter *rate.Limiter
	now     func() time.Time
}

// NewSender creates a sender. perSecond limits sends across all peers;
// zero or less means unlimited.
func NewSender(client Client, meta *state.MetaLog, journal types.EventSink, resolve func() types.PeerResolver, perSecond float64) *Sender {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Sender{
		client:  client,
		meta:    meta,
		journal: journal,
		resolve: resolve,
		limiter: limiter,
		now:     time.Now,
	}
}

// Deliver sends job and records the outcome. A worker rejection is not an
// error: it is logged as a failed status. Only a cancelled context or a
// transport failure is returned.
func (s *Sender) Deliver(ctx context.Context, job *Job) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	res, sendErr := s.client.Send(ctx, job.To, job.Text)
	if res == nil {
		res = &worker.SendResult{Failure: &types.SendFailure{Message: fmt.Sprint(sendErr)}}
	}
	ts := s.now().UnixMilli()

	entry := &state.MetaEntry{
		TS:            ts,
		Op:            "send",
		ID:            job.ID,
		HTTP:          res.HTTP,
		To:            job.To,
		Text:          job.Text,
		PhoneNumberID: s.client.PhoneID(),
	}
	if res.OK() {
		entry.Meta = res.Receipt
	} else {
		entry.Error = res.Failure
	}
	if err := s.meta.Append(entry); err != nil {
		slog.Error("failed to write meta log", "id", job.ID, "error", err)
	}

	peer := s.resolve().PeerKey(job.To)
	switch {
	case res.OK():
		job.Status = JobStatusSent
		metrics.SendAttempted("ok")
		s.journal.Record(types.NewSent(ts, peer, job.Text))
		slog.Info("message sent", "id", job.ID, "peer", peer, "message_id", res.Receipt.MessageID)
	default:
		job.Status = JobStatusFailed
		s.journal.Record(types.NewStatus(ts, peer, "failed"))
		if sendErr != nil {
			metrics.SendAttempted("error")
		} else {
			metrics.SendAttempted("failed")
			slog.Warn("worker rejected send", "id", job.ID, "peer", peer, "http", res.HTTP, "reason", res.Failure.Message)
		}
	}
	return sendErr
}
