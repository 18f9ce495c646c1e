// internal/state/cursor.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cursor is the persisted replication position.
type Cursor struct {
	Since   int64 `json:"since"`
	Updated int64 `json:"updated"`
}

// CursorStore persists the replication cursor as a small JSON file that
// is replaced atomically on every save.
type CursorStore struct {
	path string
	now  func() time.Time
}

// NewCursorStore creates a store backed by the file at path.
func NewCursorStore(path string) *CursorStore {
	return &CursorStore{path: path, now: time.Now}
}

// Path returns the cursor file path.
func (s *CursorStore) Path() string {
	return s.path
}

// Load returns the persisted cursor. A missing, malformed, wrong-shaped
// or negative cursor reports ok == false, meaning "replay from the
// beginning".
func (s *CursorStore) Load() (since int64, ok bool) {
	c, err := s.Read()
	if err != nil || c.Since < 0 {
		return 0, false
	}
	return c.Since, true
}

// Read decodes the cursor file, returning an error for any file that
// is missing or not a {"since": int} object.
func (s *CursorStore) Read() (*Cursor, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	sinceRaw, ok := raw["since"]
	if !ok {
		return nil, fmt.Errorf("cursor has no since field")
	}

	var c Cursor
	if err := json.Unmarshal(sinceRaw, &c.Since); err != nil {
		return nil, fmt.Errorf("unmarshal cursor since: %w", err)
	}
	if updatedRaw, ok := raw["updated"]; ok {
		_ = json.Unmarshal(updatedRaw, &c.Updated)
	}
	return &c, nil
}

// Save writes the cursor to a temp file, syncs it, and renames it over
// the real path so readers never observe a partial write.
func (s *CursorStore) Save(since int64) error {
	data, err := json.Marshal(Cursor{Since: since, Updated: s.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp cursor: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp cursor: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp cursor: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp cursor: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp cursor: %w", err)
	}
	return nil
}
