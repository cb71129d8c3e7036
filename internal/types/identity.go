package types

import "time"

// Identity links a Nostr public key to a local storefront account. One row
// per unique pubkey; created on first login, never deleted.
type Identity struct {
	AccountID int64     `db:"id"`
	PubKey    string    `db:"pubkey"`
	Username  string    `db:"username"`
	CreatedAt time.Time `db:"created_at"`
}

// Profile holds optional Nostr profile metadata (kind 0). Updates are
// best-effort decoration and must never block authentication.
type Profile struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
	Nip05   string `json:"nip05,omitempty"`
}
