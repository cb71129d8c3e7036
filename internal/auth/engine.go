package auth

import (
	"context"
	"log/slog"
	"time"

	"nostrpay-server/internal/nostr"
	"nostrpay-server/internal/types"
)

// RejectReason says why a login attempt was turned down. Handlers collapse
// all reasons into a generic 401; the reason is for logs and metrics only.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectWrongKind
	RejectStaleTimestamp
	RejectSignatureInvalid
	RejectNonceUnknownOrExpired
	RejectIdentityCreationFailed
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectWrongKind:
		return "wrong_kind"
	case RejectStaleTimestamp:
		return "stale_timestamp"
	case RejectSignatureInvalid:
		return "signature_invalid"
	case RejectNonceUnknownOrExpired:
		return "nonce_unknown_or_expired"
	case RejectIdentityCreationFailed:
		return "identity_creation_failed"
	default:
		return "unknown"
	}
}

// LoginResult is the outcome of presenting a signed auth event. Exactly one
// of Identity or Reason is meaningful: a nil Identity means rejection.
type LoginResult struct {
	Identity *types.Identity
	Token    string
	Created  bool
	Reason   RejectReason
}

// Engine runs the challenge-response login flow: issue a nonce, then verify
// a signed kind 22242 event presenting it.
type Engine struct {
	challenges *ChallengeStore
	resolver   *Resolver
	sessions   *SessionIssuer
	maxSkew    time.Duration
	now        func() time.Time
}

// NewEngine wires the login flow together. maxSkew <= 0 uses the protocol
// default.
func NewEngine(challenges *ChallengeStore, resolver *Resolver, sessions *SessionIssuer, maxSkew time.Duration) *Engine {
	if maxSkew <= 0 {
		maxSkew = nostr.MaxClockSkew
	}
	return &Engine{
		challenges: challenges,
		resolver:   resolver,
		sessions:   sessions,
		maxSkew:    maxSkew,
		now:        time.Now,
	}
}

// IssueChallenge mints a fresh single-use login nonce.
func (e *Engine) IssueChallenge(ctx context.Context) (*Challenge, error) {
	return e.challenges.Issue(ctx)
}

// Login validates a presented auth event and, on success, resolves the
// signer to an account and mints a session token.
//
// Checks run cheapest-first and the nonce is only consumed after the
// signature holds, so a forged event cannot burn someone else's challenge.
func (e *Engine) Login(ctx context.Context, evt *types.Event) (*LoginResult, error) {
	if evt == nil || evt.Kind != nostr.KindClientAuth || !nostr.IsValidPubKeyHex(evt.PubKey) {
		return &LoginResult{Reason: RejectWrongKind}, nil
	}

	if !nostr.CheckFreshness(evt, e.now(), e.maxSkew) {
		return &LoginResult{Reason: RejectStaleTimestamp}, nil
	}

	if !nostr.Verify(evt) {
		return &LoginResult{Reason: RejectSignatureInvalid}, nil
	}

	nonce := evt.TagValue("challenge")
	ok, err := e.challenges.Redeem(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &LoginResult{Reason: RejectNonceUnknownOrExpired}, nil
	}

	identity, created, err := e.resolver.ResolveOrCreate(ctx, evt.PubKey)
	if err != nil {
		slog.Error("identity resolution failed", "pubkey", evt.PubKey[:16], "error", err)
		return &LoginResult{Reason: RejectIdentityCreationFailed}, nil
	}

	token, err := e.sessions.Issue(identity.AccountID, identity.PubKey, identity.Username)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Identity: identity, Token: token, Created: created}, nil
}

// ApplyProfile applies kind 0 metadata presented alongside a successful
// login. Best effort: a missing, foreign, or forged profile event is
// silently ignored so profile decoration can never affect the login outcome.
func (e *Engine) ApplyProfile(ctx context.Context, identity *types.Identity, profile *types.Event) {
	if identity == nil || profile == nil {
		return
	}
	if profile.Kind != nostr.KindProfileMetadata || profile.PubKey != identity.PubKey {
		return
	}
	if !nostr.Verify(profile) {
		return
	}
	e.resolver.UpdateProfileFromEvent(ctx, identity.AccountID, profile.Content)
}

// VerifySession validates a session token and returns its claims.
func (e *Engine) VerifySession(token string) (*SessionClaims, error) {
	return e.sessions.Verify(token)
}
