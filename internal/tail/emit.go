package tail

import (
	"bufio"
	"io"
)

// emitter writes matched records either line by line or, in array
// mode, as one JSON array when flushed.
type emitter struct {
	w       *bufio.Writer
	array   bool
	records [][]byte
	flushed bool
}

func newEmitter(w io.Writer, array bool) *emitter {
	return &emitter{w: bufio.NewWriter(w), array: array}
}

func (e *emitter) emit(record []byte) error {
	if e.array {
		e.records = append(e.records, append([]byte(nil), record...))
		return nil
	}
	if _, err := e.w.Write(record); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// flush writes the array, if any. It runs once.
func (e *emitter) flush() error {
	if e.flushed {
		return nil
	}
	e.flushed = true
	if !e.array {
		return e.w.Flush()
	}
	e.w.WriteByte('[')
	for i, r := range e.records {
		if i > 0 {
			e.w.WriteByte(',')
		}
		e.w.Write(r)
	}
	e.w.WriteString("]\n")
	return e.w.Flush()
}
