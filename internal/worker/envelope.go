package worker

import (
	"encoding/json"
	"log/slog"

	"github.com/user/wahub/internal/types"
)

// payload is the subset of a provider webhook body the hub records.
type payload struct {
	Entry []struct {
		Changes []struct {
			Value *struct {
				Messages []struct {
					Type string `json:"type"`
					From string `json:"from"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
				Statuses []struct {
					RecipientID string `json:"recipient_id"`
					Status      string `json:"status"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// DecodePayloads turns provider payloads into event records, in payload
// order. Text messages become received records; delivery statuses become
// status records. Other message types are ignored, and payloads that do
// not decode are skipped. Peers are keyed through resolver. Timestamps
// are left at zero for the writer to assign.
func DecodePayloads(payloads []json.RawMessage, resolver types.PeerResolver) []*types.Event {
	var events []*types.Event
	for _, raw := range payloads {
		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.Debug("skipping undecodable payload", "error", err)
			continue
		}
		for _, entry := range p.Entry {
			for _, change := range entry.Changes {
				v := change.Value
				if v == nil {
					continue
				}
				for _, m := range v.Messages {
					if m.Type != "text" {
						continue
					}
					events = append(events, types.NewReceived(0, resolver.PeerKey(m.From), m.Text.Body))
				}
				for _, s := range v.Statuses {
					events = append(events, types.NewStatus(0, resolver.PeerKey(s.RecipientID), s.Status))
				}
			}
		}
	}
	return events
}
