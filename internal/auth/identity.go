package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"nostrpay-server/internal/store"
	"nostrpay-server/internal/types"
)

// usernamePrefixLen is how many pubkey hex characters seed the placeholder
// username.
const usernamePrefixLen = 16

// maxUsernameAttempts bounds the suffix search when placeholder usernames
// collide.
const maxUsernameAttempts = 100

// Resolver maps Nostr pubkeys to local accounts, creating one on first
// sight. The backing store's uniqueness constraint on pubkey is the only
// serialization point: the loser of a concurrent first-login race re-reads
// and returns the winner's account.
type Resolver struct {
	store     store.AccountStore
	onCreated func(types.Identity)
}

// NewResolver creates an identity resolver. onCreated, when non-nil, fires
// exactly once per newly linked pubkey (the store constraint guarantees a
// single winning insert).
func NewResolver(accounts store.AccountStore, onCreated func(types.Identity)) *Resolver {
	return &Resolver{store: accounts, onCreated: onCreated}
}

// ResolveOrCreate returns the identity for pubkey, allocating a new account
// with a placeholder username on first sight. The second return value
// reports whether this call created the account.
func (r *Resolver) ResolveOrCreate(ctx context.Context, pubkey string) (*types.Identity, bool, error) {
	identity, err := r.store.GetByPubKey(ctx, pubkey)
	if err == nil {
		return identity, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	username, err := r.placeholderUsername(ctx, pubkey)
	if err != nil {
		return nil, false, err
	}

	identity, err = r.store.Create(ctx, pubkey, username)
	if errors.Is(err, store.ErrDuplicatePubKey) {
		// Lost the first-login race; the winner's row is authoritative
		identity, err = r.store.GetByPubKey(ctx, pubkey)
		if err != nil {
			return nil, false, fmt.Errorf("auth: re-read after duplicate pubkey: %w", err)
		}
		return identity, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	slog.Info("created account for new pubkey",
		"account_id", identity.AccountID,
		"username", identity.Username,
		"pubkey", pubkey[:16])

	if r.onCreated != nil {
		r.onCreated(*identity)
	}

	return identity, true, nil
}

// placeholderUsername derives nostr_<pubkey prefix>, disambiguated with an
// incrementing _N suffix on collision.
func (r *Resolver) placeholderUsername(ctx context.Context, pubkey string) (string, error) {
	prefix := pubkey
	if len(prefix) > usernamePrefixLen {
		prefix = prefix[:usernamePrefixLen]
	}
	base := "nostr_" + prefix

	username := base
	for i := 1; i <= maxUsernameAttempts; i++ {
		exists, err := r.store.UsernameExists(ctx, username)
		if err != nil {
			return "", err
		}
		if !exists {
			return username, nil
		}
		username = fmt.Sprintf("%s_%d", base, i)
	}
	return "", fmt.Errorf("auth: no free username for prefix %s", base)
}

// UpdateProfileFromEvent applies kind 0 profile metadata to an account.
// Best effort: parse failures and store errors are logged and swallowed so
// profile decoration never blocks or fails a login.
func (r *Resolver) UpdateProfileFromEvent(ctx context.Context, accountID int64, profileContent string) {
	var profile types.Profile
	if err := json.Unmarshal([]byte(profileContent), &profile); err != nil {
		slog.Debug("ignoring unparseable profile metadata", "account_id", accountID, "error", err)
		return
	}
	if profile == (types.Profile{}) {
		return
	}
	if err := r.store.UpdateProfile(ctx, accountID, profile); err != nil {
		slog.Debug("profile update failed", "account_id", accountID, "error", err)
	}
}
