package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a minted session token stays valid.
const DefaultSessionTTL = 24 * time.Hour

// ErrInvalidSession covers expired, malformed, and tampered tokens alike so
// callers can't distinguish them.
var ErrInvalidSession = errors.New("auth: invalid session")

// SessionClaims is the JWT payload for a logged-in account.
type SessionClaims struct {
	PubKey   string `json:"pubkey"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and verifies HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionIssuer creates an issuer signing with secret. ttl <= 0 falls
// back to DefaultSessionTTL.
func NewSessionIssuer(secret []byte, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionIssuer{secret: secret, ttl: ttl}
}

// Issue mints a signed token for the given account.
func (s *SessionIssuer) Issue(accountID int64, pubkey, username string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		PubKey:   pubkey,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (s *SessionIssuer) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// AccountID extracts the numeric account id from the subject claim.
func (c *SessionClaims) AccountID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidSession
	}
	return id, nil
}
