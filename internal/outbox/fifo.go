package outbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/user/wahub/internal/types"
)

// maxEnvelope bounds one line read from the pipe.
const maxEnvelope = 1 << 20

// ErrNoReader is returned by WriteEnvelope when nothing has the pipe
// open for reading, i.e. the hub is not running.
var ErrNoReader = errors.New("no reader on send pipe")

// FIFO is the read side of the send pipe plus a write handle that keeps
// the pipe from reporting EOF when the last external writer closes.
type FIFO struct {
	path      string
	r         *os.File
	keepalive *os.File
}

// OpenFIFO creates the named pipe at path if needed and opens it.
func OpenFIFO(path string) (*FIFO, error) {
	if err := ensureFIFO(path); err != nil {
		return nil, err
	}

	// Non-blocking open so we do not wait for a writer; reads then go
	// through the runtime poller and unblock on Close.
	r, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open fifo for reading: %w", err)
	}
	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("open fifo keepalive writer: %w", err)
	}
	return &FIFO{path: path, r: r, keepalive: w}, nil
}

func ensureFIFO(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a named pipe", path)
		}
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat fifo: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create fifo dir: %w", err)
	}
	if err := unix.Mkfifo(path, 0o600); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// Path returns the pipe path.
func (f *FIFO) Path() string {
	return f.path
}

// Close releases both handles. A blocked Run returns.
func (f *FIFO) Close() error {
	return errors.Join(f.r.Close(), f.keepalive.Close())
}

// Run reads newline-delimited send envelopes and submits them until ctx
// is cancelled. Malformed envelopes are logged and skipped.
func (f *FIFO) Run(ctx context.Context, sub Submitter) error {
	stop := context.AfterFunc(ctx, func() { f.Close() })
	defer stop()

	scanner := bufio.NewScanner(f.r)
	scanner.Buffer(make([]byte, 0, 4096), maxEnvelope)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req types.SendRequest
		if err := json.Unmarshal(line, &req); err != nil {
			slog.Warn("bad send envelope", "line", string(line), "error", err)
			continue
		}
		job, err := sub.Submit(&req)
		if err != nil {
			slog.Warn("send rejected", "error", err)
			continue
		}
		slog.Debug("envelope accepted", "id", job.ID)
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read fifo: %w", err)
	}
	return nil
}

// WriteEnvelope writes one send envelope into the pipe at path without
// blocking when no hub is reading.
func WriteEnvelope(path string, req *types.SendRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	w, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("%w: %s", ErrNoReader, path)
		}
		return fmt.Errorf("open fifo: %w", err)
	}
	defer w.Close()

	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}
