package tail

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
)

// open opens the path and records its identity. It reports false when
// the path does not exist.
func (t *Tailer) open() (bool, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", t.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return false, fmt.Errorf("stat %s: %w", t.path, err)
	}
	t.close()
	t.f = f
	t.info = info
	return true, nil
}

// poll checks the path for rotation or truncation and reads any new
// complete lines. It returns how many lines were consumed and whether
// one of them matched.
func (t *Tailer) poll(out *emitter) (n int, matched bool, err error) {
	if t.f == nil {
		// A previous reopen raced with another rotation.
		ok, err := t.open()
		if err != nil || !ok {
			return 0, false, err
		}
		t.offset = 0
	}

	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Renamed away and not yet recreated; the old handle may still
			// have a tail to read.
			return t.readLines(out)
		}
		return 0, false, fmt.Errorf("stat %s: %w", t.path, err)
	}

	if !os.SameFile(info, t.info) {
		n, matched, err = t.readLines(out)
		if err != nil || (matched && t.opts.Mode == ModeOnce) {
			return n, matched, err
		}
		t.rotations.Add(1)
		slog.Debug("rotation detected", "path", t.path, "drained", n, "offset", t.offset)

		ok, err := t.open()
		if err != nil {
			return n, matched, err
		}
		if !ok {
			t.close()
			return n, matched, nil
		}
		t.offset = 0
	} else if info.Size() < t.offset {
		t.rotations.Add(1)
		slog.Debug("truncation detected", "path", t.path, "size", info.Size(), "offset", t.offset)
		t.offset = 0
	}

	m, hit, err := t.readLines(out)
	return n + m, matched || hit, err
}

// readLines consumes complete lines from the open handle starting at
// the current offset. In once mode it stops at the first match.
func (t *Tailer) readLines(out *emitter) (n int, matched bool, err error) {
	r := bufio.NewReader(io.NewSectionReader(t.f, t.offset, math.MaxInt64-t.offset))
	for {
		line, rerr := r.ReadBytes('\n')
		if rerr != nil {
			// A partial line at EOF stays unconsumed.
			if rerr == io.EOF {
				return n, matched, nil
			}
			return n, matched, fmt.Errorf("read %s: %w", t.path, rerr)
		}
		t.offset += int64(len(line))
		n++

		record := bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(record)) == 0 {
			continue
		}
		if !t.filter.Match(record) {
			continue
		}
		matched = true
		if err := out.emit(record); err != nil {
			return n, matched, err
		}
		if t.opts.Mode == ModeOnce {
			return n, matched, nil
		}
	}
}
