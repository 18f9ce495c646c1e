package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/user/wahub/internal/filter"
)

// DefaultPollInterval is how often the file is re-checked when idle.
const DefaultPollInterval = 200 * time.Millisecond

var (
	// ErrTimeout is returned by once mode when no record matched before
	// the deadline.
	ErrTimeout = errors.New("timed out waiting for a matching record")
	// ErrNotFound is returned when the file is required to exist at start
	// and does not.
	ErrNotFound = errors.New("file not found")
)

// Mode selects when a tail stops.
type Mode int

const (
	// ModeFollow streams until the context is cancelled.
	ModeFollow Mode = iota
	// ModeOnce stops at the first matching record or the timeout.
	ModeOnce
	// ModeWindow collects matches until the window closes.
	ModeWindow
)

func (m Mode) String() string {
	switch m {
	case ModeFollow:
		return "follow"
	case ModeOnce:
		return "once"
	case ModeWindow:
		return "window"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// State is the tailer's position in its lifecycle.
type State int32

const (
	StateStarting State = iota
	StateWaitingForFile
	StateStreaming
	StateEOFIdle
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWaitingForFile:
		return "waiting"
	case StateStreaming:
		return "streaming"
	case StateEOFIdle:
		return "idle"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Tailer.
type Options struct {
	Mode Mode
	// Timeout bounds once mode, including the wait for the file.
	Timeout time.Duration
	// Window is the collection period of window mode.
	Window time.Duration
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// JSONArray writes all matches as one JSON array when the tail ends.
	JSONArray bool
	// RequireFile fails with ErrNotFound instead of waiting.
	RequireFile bool
}

// Tailer reads matching records from one log path.
type Tailer struct {
	path   string
	filter *filter.Filter
	opts   Options
	now    func() time.Time

	state     atomic.Int32
	rotations atomic.Int64

	f      *os.File
	info   os.FileInfo
	offset int64
}

// New creates a tailer for path. A nil filter matches every record.
func New(path string, f *filter.Filter, opts Options) *Tailer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if f == nil {
		f, _ = filter.New(filter.Options{})
	}
	return &Tailer{path: path, filter: f, opts: opts, now: time.Now}
}

// Path returns the tailed path.
func (t *Tailer) Path() string {
	return t.path
}

// State returns the current state. Safe to call from other goroutines.
func (t *Tailer) State() State {
	return State(t.state.Load())
}

// Rotations counts identity changes and truncations seen so far.
func (t *Tailer) Rotations() int64 {
	return t.rotations.Load()
}

func (t *Tailer) setState(s State) {
	t.state.Store(int32(s))
}

// Run tails until the mode's stop condition and writes matches to w.
//
// Follow mode returns nil when ctx is cancelled. Once mode returns nil
// after the first match and ErrTimeout at its deadline. Window mode
// returns nil when the window closes. Once and window modes return the
// context error if cancelled early, after writing what they collected.
func (t *Tailer) Run(ctx context.Context, w io.Writer) error {
	defer t.close()
	defer t.setState(StateTerminated)

	var deadline time.Time
	switch t.opts.Mode {
	case ModeOnce:
		deadline = t.now().Add(t.opts.Timeout)
	case ModeWindow:
		deadline = t.now().Add(t.opts.Window)
	}

	out := newEmitter(w, t.opts.JSONArray)

	appeared, err := t.waitForFile(ctx, deadline)
	if err != nil {
		return t.finish(out, err)
	}

	if _, ok := t.filter.SinceTS(); ok || appeared {
		// History scan, or a file created after we started: all of it is new.
		t.offset = 0
	} else {
		t.offset = t.info.Size()
	}
	slog.Debug("tailing", "path", t.path, "offset", t.offset, "mode", t.opts.Mode.String())

	for {
		if err := ctx.Err(); err != nil {
			return t.finish(out, err)
		}
		if t.expired(deadline) {
			return t.finish(out, t.deadlineErr())
		}

		n, matched, err := t.poll(out)
		if err != nil {
			return t.finish(out, err)
		}
		if matched && t.opts.Mode == ModeOnce {
			return t.finish(out, nil)
		}
		if n > 0 {
			t.setState(StateStreaming)
			continue
		}

		t.setState(StateEOFIdle)
		if err := t.sleep(ctx, deadline); err != nil {
			return t.finish(out, err)
		}
	}
}

// waitForFile opens the path, polling until it exists. appeared reports
// whether the file was absent on the first attempt.
func (t *Tailer) waitForFile(ctx context.Context, deadline time.Time) (appeared bool, err error) {
	for {
		ok, err := t.open()
		if err != nil {
			return false, err
		}
		if ok {
			return appeared, nil
		}
		if t.opts.RequireFile {
			return false, fmt.Errorf("%w: %s", ErrNotFound, t.path)
		}
		if !appeared {
			appeared = true
			t.setState(StateWaitingForFile)
		}
		if t.expired(deadline) {
			return false, t.deadlineErr()
		}
		if err := t.sleep(ctx, deadline); err != nil {
			return false, err
		}
	}
}

func (t *Tailer) expired(deadline time.Time) bool {
	return !deadline.IsZero() && !t.now().Before(deadline)
}

func (t *Tailer) deadlineErr() error {
	if t.opts.Mode == ModeOnce {
		return ErrTimeout
	}
	return nil
}

// sleep waits one poll interval, cut short by the deadline or ctx.
func (t *Tailer) sleep(ctx context.Context, deadline time.Time) error {
	d := t.opts.PollInterval
	if !deadline.IsZero() {
		if left := deadline.Sub(t.now()); left < d {
			d = left
		}
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// finish flushes collected output and maps the stop reason to Run's
// result.
func (t *Tailer) finish(out *emitter, reason error) error {
	if ferr := out.flush(); ferr != nil && reason == nil {
		reason = ferr
	}
	if t.opts.Mode == ModeFollow && (errors.Is(reason, context.Canceled) || errors.Is(reason, context.DeadlineExceeded)) {
		return nil
	}
	return reason
}

func (t *Tailer) close() {
	if t.f != nil {
		t.f.Close()
		t.f = nil
	}
}
