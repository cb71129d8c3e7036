// Package types provides shared type definitions used across internal packages.
package types

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// TagValue returns the second element of the first tag whose first element
// matches name, or "" when no such tag exists.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	PTags   []string // #p tag filter (recipients)
	ETags   []string // #e tag filter (event references)
}

// ToWire converts the filter to the map shape relays expect in a REQ frame.
// Empty fields are omitted so the relay does not treat them as constraints.
func (f Filter) ToWire() map[string]interface{} {
	wire := map[string]interface{}{}
	if len(f.IDs) > 0 {
		wire["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		wire["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		wire["kinds"] = f.Kinds
	}
	if f.Limit > 0 {
		wire["limit"] = f.Limit
	}
	if f.Since != nil {
		wire["since"] = *f.Since
	}
	if f.Until != nil {
		wire["until"] = *f.Until
	}
	if len(f.PTags) > 0 {
		wire["#p"] = f.PTags
	}
	if len(f.ETags) > 0 {
		wire["#e"] = f.ETags
	}
	return wire
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}
