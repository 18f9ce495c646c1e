// Package outbox carries outbound text messages from local producers to
// the worker: a named pipe and the HTTP API feed per-peer lanes, and a
// sender delivers each message and records the outcome.
package outbox

import (
	"time"

	"github.com/google/uuid"

	"github.com/user/wahub/internal/types"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusQueued JobStatus = "queued"
	JobStatusSent   JobStatus = "sent"
	JobStatusFailed JobStatus = "failed"
)

// Job is one queued send.
type Job struct {
	ID       string
	To       string
	Text     string
	Status   JobStatus
	Enqueued time.Time
}

// NewJob creates a queued job for the resolved number to.
func NewJob(to, text string) *Job {
	return &Job{
		ID:       uuid.NewString(),
		To:       to,
		Text:     text,
		Status:   JobStatusQueued,
		Enqueued: time.Now(),
	}
}

// Submitter accepts send requests.
type Submitter interface {
	Submit(req *types.SendRequest) (*Job, error)
}
