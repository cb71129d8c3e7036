// Package auth drives pubkey login: single-use challenges, the login state
// machine that validates signed auth events, identity resolution, and
// session minting.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"nostrpay-server/internal/cache"
)

// DefaultChallengeTTL is how long an issued challenge stays redeemable.
const DefaultChallengeTTL = 300 * time.Second

const challengeKeyPrefix = "login_challenge:"

// Challenge is a single-use login nonce handed to the browser for embedding
// in the signed auth event.
type Challenge struct {
	Nonce    string        `json:"challenge"`
	IssuedAt time.Time     `json:"issued_at"`
	TTL      time.Duration `json:"-"`
}

// ChallengeStore issues and redeems login nonces over a TTL-capable
// key/value backend. Redemption piggybacks on the backend's atomic
// get-and-delete, so exactly one concurrent redeemer wins even across
// process instances.
type ChallengeStore struct {
	backend cache.Backend
	ttl     time.Duration
}

// NewChallengeStore creates a challenge store with the given TTL
// (DefaultChallengeTTL when zero).
func NewChallengeStore(backend cache.Backend, ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeStore{backend: backend, ttl: ttl}
}

// Issue generates a cryptographically random nonce and stores it under the
// configured TTL.
func (s *ChallengeStore) Issue(ctx context.Context) (*Challenge, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("auth: generate challenge nonce: %w", err)
	}

	ch := &Challenge{
		Nonce:    hex.EncodeToString(buf),
		IssuedAt: time.Now(),
		TTL:      s.ttl,
	}

	value := []byte(strconv.FormatInt(ch.IssuedAt.Unix(), 10))
	if err := s.backend.Set(ctx, challengeKeyPrefix+ch.Nonce, value, s.ttl); err != nil {
		return nil, fmt.Errorf("auth: store challenge: %w", err)
	}

	return ch, nil
}

// Redeem atomically consumes a nonce. Returns false when the nonce is
// unknown, expired, or was already redeemed; true exactly once otherwise.
func (s *ChallengeStore) Redeem(ctx context.Context, nonce string) (bool, error) {
	if nonce == "" {
		return false, nil
	}
	_, found, err := s.backend.GetDelete(ctx, challengeKeyPrefix+nonce)
	if err != nil {
		return false, fmt.Errorf("auth: redeem challenge: %w", err)
	}
	return found, nil
}
