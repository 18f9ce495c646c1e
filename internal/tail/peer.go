package tail

import (
	"fmt"

	"github.com/user/wahub/internal/eventlog"
	"github.com/user/wahub/internal/types"
)

// ResolvePeerPath returns the shard file for peer, which may be a number
// or an alias. Numbers with an alias are keyed by the alias, the same
// way the writer keys them.
func ResolvePeerPath(dir, prefix, suffix string, resolver types.PeerResolver, peer string) (string, error) {
	key := resolver.PeerKey(peer)
	if !eventlog.ValidKey(key) {
		return "", fmt.Errorf("%w: %q", eventlog.ErrInvalidKey, peer)
	}
	return eventlog.ShardPath(dir, prefix, key, suffix), nil
}
