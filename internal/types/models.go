// internal/types/models.go
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags an Event record.
type Kind string

const (
	KindReceived Kind = "received"
	KindSent     Kind = "sent"
	KindStatus   Kind = "status"
)

// Valid reports whether k is one of the known record kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindReceived, KindSent, KindStatus:
		return true
	}
	return false
}

// ParseKind validates a user-supplied kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("invalid kind %q (use received|sent|status)", s)
	}
	return k, nil
}

var (
	ErrMissingKind = errors.New("record has no kind")
	ErrUnknownKind = errors.New("record has unknown kind")
)

// Event is one line of an event log. Received and sent records carry
// Text; status records carry Status.
type Event struct {
	TS     int64  `json:"ts"`
	Kind   Kind   `json:"kind"`
	Peer   string `json:"peer"`
	Text   string `json:"text,omitempty"`
	Status string `json:"status,omitempty"`
}

// NewReceived builds a received record stamped with ts.
func NewReceived(ts int64, peer, text string) *Event {
	return &Event{TS: ts, Kind: KindReceived, Peer: peer, Text: text}
}

// NewSent builds a sent record stamped with ts.
func NewSent(ts int64, peer, text string) *Event {
	return &Event{TS: ts, Kind: KindSent, Peer: peer, Text: text}
}

// NewStatus builds a status record stamped with ts.
func NewStatus(ts int64, peer, status string) *Event {
	return &Event{TS: ts, Kind: KindStatus, Peer: peer, Status: status}
}

type textRecord struct {
	TS   int64  `json:"ts"`
	Kind Kind   `json:"kind"`
	Peer string `json:"peer"`
	Text string `json:"text"`
}

type statusRecord struct {
	TS     int64  `json:"ts"`
	Kind   Kind   `json:"kind"`
	Peer   string `json:"peer"`
	Status string `json:"status"`
}

// MarshalJSON writes only the payload field that belongs to the kind.
// Text is always present on received/sent records, even when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindReceived, KindSent:
		return json.Marshal(textRecord{TS: e.TS, Kind: e.Kind, Peer: e.Peer, Text: e.Text})
	case KindStatus:
		return json.Marshal(statusRecord{TS: e.TS, Kind: e.Kind, Peer: e.Peer, Status: e.Status})
	case "":
		return nil, ErrMissingKind
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

// ParseEvent decodes one log line. Lines that are not a JSON object or
// carry a missing or unknown kind are rejected.
func ParseEvent(line []byte) (*Event, error) {
	type plain Event
	var ev plain
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if ev.Kind == "" {
		return nil, ErrMissingKind
	}
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	out := Event(ev)
	return &out, nil
}

// SendRequest is one outbound message envelope, as written into the
// send FIFO or posted to the HTTP API. Alias is accepted when To is
// empty.
type SendRequest struct {
	To    string `json:"to,omitempty"`
	Alias string `json:"alias,omitempty"`
	Text  string `json:"text"`
}

// Target returns the addressee, preferring To over Alias.
func (r *SendRequest) Target() string {
	if r.To != "" {
		return r.To
	}
	return r.Alias
}

// Validate checks that the envelope names a recipient and carries text.
func (r *SendRequest) Validate() error {
	if r.Target() == "" || r.Text == "" {
		return errors.New("send needs {to|alias, text}")
	}
	return nil
}

// SendReceipt is what the worker reports for an accepted message.
type SendReceipt struct {
	WaID      string `json:"wa_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// SendFailure describes a rejected send, either decoded from the
// provider's error object or carrying the raw body when it was not JSON.
type SendFailure struct {
	Code      int    `json:"code,omitempty"`
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
	Raw       string `json:"raw,omitempty"`
}
