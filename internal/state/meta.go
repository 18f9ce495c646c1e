// internal/state/meta.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/wahub/internal/types"
)

// MetaEntry is one line of the meta log: a record of a single outbound
// send attempt and what the worker answered.
type MetaEntry struct {
	TS            int64              `json:"ts"`
	Op            string             `json:"op"`
	ID            string             `json:"id"`
	HTTP          int                `json:"http"`
	To            string             `json:"to"`
	Text          string             `json:"text"`
	PhoneNumberID string             `json:"phone_number_id"`
	Meta          *types.SendReceipt `json:"meta,omitempty"`
	Error         *types.SendFailure `json:"error,omitempty"`
}

// MetaLog is an append-only, non-rotating JSONL file of send attempts.
type MetaLog struct {
	path string
	mu   sync.Mutex
}

// NewMetaLog creates a meta log at path. The file is created on first
// append.
func NewMetaLog(path string) *MetaLog {
	return &MetaLog{path: path}
}

// Path returns the meta log path.
func (m *MetaLog) Path() string {
	return m.path
}

// Append writes entry as one line.
func (m *MetaLog) Append(entry *MetaEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal meta entry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open meta log: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write meta entry: %w", err)
	}
	return nil
}
