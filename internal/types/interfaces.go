// internal/types/interfaces.go
package types

// EventSink accepts records for durable logging. Implementations absorb
// per-shard failures and never block on the network.
type EventSink interface {
	Record(ev *Event)
}

// PeerResolver maps between raw peer identifiers and display aliases.
type PeerResolver interface {
	PeerKey(number string) string
	Number(aliasOrNumber string) string
}
