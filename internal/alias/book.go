// Package alias maps peer phone numbers to short display names.
//
// The mapping file is a JSON object of alias to number, either flat or
// nested under an "aliases" key. Comments and trailing commas are
// tolerated.
package alias

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/user/wahub/internal/types"
)

// Book is an immutable, bidirectional alias table.
type Book struct {
	toNumber map[string]string
	toAlias  map[string]string
}

var _ types.PeerResolver = (*Book)(nil)

// Empty returns a book with no aliases.
func Empty() *Book {
	return &Book{toNumber: map[string]string{}, toAlias: map[string]string{}}
}

// Load reads the alias file at path. A missing or unreadable file yields
// an empty book, matching how peers without aliases are keyed by number.
func Load(path string) *Book {
	b, err := Read(path)
	if err != nil {
		return Empty()
	}
	return b
}

// Read is like Load but reports why the file could not be used.
func Read(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	return Parse(data)
}

// Parse decodes alias file contents. Non-string values are ignored.
func Parse(data []byte) (*Book, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &root); err != nil {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}

	if nested, ok := root["aliases"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			root = inner
		}
	}

	b := Empty()
	names := make([]string, 0, len(root))
	for name := range root {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var number string
		if err := json.Unmarshal(root[name], &number); err != nil {
			continue
		}
		b.toNumber[name] = number
		// Several aliases for one number: the first in sorted order keys the shard.
		if _, taken := b.toAlias[number]; !taken {
			b.toAlias[number] = name
		}
	}
	return b, nil
}

// PeerKey returns the alias for number, or number itself when it has none.
func (b *Book) PeerKey(number string) string {
	if a, ok := b.toAlias[number]; ok {
		return a
	}
	return number
}

// Number resolves an alias to its number. Anything that is not a known
// alias is returned unchanged.
func (b *Book) Number(aliasOrNumber string) string {
	if n, ok := b.toNumber[aliasOrNumber]; ok {
		return n
	}
	return aliasOrNumber
}

// Len reports how many aliases the book holds.
func (b *Book) Len() int {
	return len(b.toNumber)
}

// Aliases returns the alias to number table, sorted by alias.
func (b *Book) Aliases() []Entry {
	entries := make([]Entry, 0, len(b.toNumber))
	for name, number := range b.toNumber {
		entries = append(entries, Entry{Alias: name, Number: number})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Alias < entries[j].Alias })
	return entries
}

// Entry is one alias row.
type Entry struct {
	Alias  string `json:"alias"`
	Number string `json:"number"`
}
