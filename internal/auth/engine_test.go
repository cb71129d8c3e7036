package auth

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"nostrpay-server/internal/cache"
	"nostrpay-server/internal/nostr"
	"nostrpay-server/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *fakeAccountStore) {
	t.Helper()
	backend := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { backend.Close() })

	accounts := newFakeAccountStore()
	challenges := NewChallengeStore(backend, time.Minute)
	resolver := NewResolver(accounts, nil)
	sessions := NewSessionIssuer([]byte("test-secret"), time.Hour)
	return NewEngine(challenges, resolver, sessions, 0), accounts
}

func signedAuthEvent(t *testing.T, priv []byte, nonce string, createdAt int64) *types.Event {
	t.Helper()
	pub, err := nostr.GetPublicKey(priv)
	if err != nil {
		t.Fatalf("GetPublicKey failed: %v", err)
	}
	evt := &types.Event{
		PubKey:    hex.EncodeToString(pub),
		CreatedAt: createdAt,
		Kind:      nostr.KindClientAuth,
		Tags:      [][]string{{"challenge", nonce}},
	}
	if err := nostr.Sign(evt, priv); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return evt
}

func TestLoginHappyPath(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	ch, err := engine.IssueChallenge(ctx)
	if err != nil {
		t.Fatalf("IssueChallenge failed: %v", err)
	}

	priv, _ := nostr.GeneratePrivateKey()
	evt := signedAuthEvent(t, priv, ch.Nonce, time.Now().Unix())

	result, err := engine.Login(ctx, evt)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.Identity == nil {
		t.Fatalf("login rejected: %s", result.Reason)
	}
	if !result.Created {
		t.Error("first login did not create an account")
	}
	if result.Token == "" {
		t.Error("no session token minted")
	}

	claims, err := engine.VerifySession(result.Token)
	if err != nil {
		t.Fatalf("minted token failed verification: %v", err)
	}
	if claims.PubKey != evt.PubKey {
		t.Errorf("session pubkey = %q, want %q", claims.PubKey, evt.PubKey)
	}
}

func TestLoginSecondTimeResolvesSameAccount(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	priv, _ := nostr.GeneratePrivateKey()

	ch1, _ := engine.IssueChallenge(ctx)
	first, err := engine.Login(ctx, signedAuthEvent(t, priv, ch1.Nonce, time.Now().Unix()))
	if err != nil || first.Identity == nil {
		t.Fatalf("first login failed: %v / %+v", err, first)
	}

	ch2, _ := engine.IssueChallenge(ctx)
	second, err := engine.Login(ctx, signedAuthEvent(t, priv, ch2.Nonce, time.Now().Unix()))
	if err != nil || second.Identity == nil {
		t.Fatalf("second login failed: %v / %+v", err, second)
	}

	if second.Created {
		t.Error("second login reported account creation")
	}
	if second.Identity.AccountID != first.Identity.AccountID {
		t.Error("second login resolved to a different account")
	}
}

func TestLoginReplayRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	ch, _ := engine.IssueChallenge(ctx)
	priv, _ := nostr.GeneratePrivateKey()
	evt := signedAuthEvent(t, priv, ch.Nonce, time.Now().Unix())

	first, err := engine.Login(ctx, evt)
	if err != nil || first.Identity == nil {
		t.Fatalf("first login failed: %v", err)
	}

	// Replaying the identical signed event must fail on the consumed nonce
	replay, err := engine.Login(ctx, evt)
	if err != nil {
		t.Fatalf("replay login errored: %v", err)
	}
	if replay.Identity != nil {
		t.Fatal("replayed event logged in")
	}
	if replay.Reason != RejectNonceUnknownOrExpired {
		t.Errorf("reason = %s, want nonce_unknown_or_expired", replay.Reason)
	}
}

func TestLoginWrongKind(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	ch, _ := engine.IssueChallenge(ctx)
	priv, _ := nostr.GeneratePrivateKey()
	evt := signedAuthEvent(t, priv, ch.Nonce, time.Now().Unix())
	evt.Kind = 1
	// Re-sign so only the kind is wrong, not the signature
	if err := nostr.Sign(evt, priv); err != nil {
		t.Fatal(err)
	}

	result, err := engine.Login(ctx, evt)
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if result.Reason != RejectWrongKind {
		t.Errorf("reason = %s, want wrong_kind", result.Reason)
	}
}

func TestLoginStaleTimestamp(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	ch, _ := engine.IssueChallenge(ctx)
	priv, _ := nostr.GeneratePrivateKey()
	evt := signedAuthEvent(t, priv, ch.Nonce, time.Now().Add(-time.Hour).Unix())

	result, err := engine.Login(ctx, evt)
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if result.Reason != RejectStaleTimestamp {
		t.Errorf("reason = %s, want stale_timestamp", result.Reason)
	}

	// A stale presentation must not burn the nonce
	fresh := signedAuthEvent(t, priv, ch.Nonce, time.Now().Unix())
	retry, err := engine.Login(ctx, fresh)
	if err != nil || retry.Identity == nil {
		t.Errorf("retry after stale rejection failed: %v / %+v", err, retry)
	}
}

func TestLoginBadSignature(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	ch, _ := engine.IssueChallenge(ctx)
	priv, _ := nostr.GeneratePrivateKey()
	evt := signedAuthEvent(t, priv, ch.Nonce, time.Now().Unix())
	evt.Content = "tampered after signing"

	result, err := engine.Login(ctx, evt)
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if result.Reason != RejectSignatureInvalid {
		t.Errorf("reason = %s, want signature_invalid", result.Reason)
	}

	// Forged events must not burn the nonce either
	fresh := signedAuthEvent(t, priv, ch.Nonce, time.Now().Unix())
	retry, err := engine.Login(ctx, fresh)
	if err != nil || retry.Identity == nil {
		t.Errorf("retry after forged rejection failed: %v / %+v", err, retry)
	}
}

func TestLoginUnknownNonce(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	priv, _ := nostr.GeneratePrivateKey()
	evt := signedAuthEvent(t, priv, "deadbeef", time.Now().Unix())

	result, err := engine.Login(ctx, evt)
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if result.Reason != RejectNonceUnknownOrExpired {
		t.Errorf("reason = %s, want nonce_unknown_or_expired", result.Reason)
	}
}

func TestLoginMissingChallengeTag(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	priv, _ := nostr.GeneratePrivateKey()
	pub, _ := nostr.GetPublicKey(priv)
	evt := &types.Event{
		PubKey:    hex.EncodeToString(pub),
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindClientAuth,
	}
	if err := nostr.Sign(evt, priv); err != nil {
		t.Fatal(err)
	}

	result, err := engine.Login(ctx, evt)
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if result.Reason != RejectNonceUnknownOrExpired {
		t.Errorf("reason = %s, want nonce_unknown_or_expired", result.Reason)
	}
}

func signedProfileEvent(t *testing.T, priv []byte, content string) *types.Event {
	t.Helper()
	pub, err := nostr.GetPublicKey(priv)
	if err != nil {
		t.Fatalf("GetPublicKey failed: %v", err)
	}
	evt := &types.Event{
		PubKey:    hex.EncodeToString(pub),
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindProfileMetadata,
		Content:   content,
	}
	if err := nostr.Sign(evt, priv); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return evt
}

func TestApplyProfileDecoratesAccount(t *testing.T) {
	engine, accounts := newTestEngine(t)
	ctx := context.Background()

	ch, _ := engine.IssueChallenge(ctx)
	priv, _ := nostr.GeneratePrivateKey()
	result, err := engine.Login(ctx, signedAuthEvent(t, priv, ch.Nonce, time.Now().Unix()))
	if err != nil || result.Identity == nil {
		t.Fatalf("login failed: %v / %+v", err, result)
	}

	profile := signedProfileEvent(t, priv, `{"name":"alice","about":"sells hats","nip05":"alice@example.com"}`)
	engine.ApplyProfile(ctx, result.Identity, profile)

	stored, ok := accounts.profileFor(result.Identity.AccountID)
	if !ok {
		t.Fatal("profile metadata was not applied")
	}
	if stored.Name != "alice" || stored.About != "sells hats" || stored.Nip05 != "alice@example.com" {
		t.Errorf("stored profile = %+v", stored)
	}
}

// A profile event that is missing, signed by a different key, tampered with,
// or of the wrong kind must be ignored without touching the account.
func TestApplyProfileRejectsInvalid(t *testing.T) {
	engine, accounts := newTestEngine(t)
	ctx := context.Background()

	ch, _ := engine.IssueChallenge(ctx)
	priv, _ := nostr.GeneratePrivateKey()
	result, err := engine.Login(ctx, signedAuthEvent(t, priv, ch.Nonce, time.Now().Unix()))
	if err != nil || result.Identity == nil {
		t.Fatalf("login failed: %v / %+v", err, result)
	}

	otherPriv, _ := nostr.GeneratePrivateKey()
	foreign := signedProfileEvent(t, otherPriv, `{"name":"mallory"}`)

	tampered := signedProfileEvent(t, priv, `{"name":"alice"}`)
	tampered.Content = `{"name":"mallory"}`

	wrongKind := signedProfileEvent(t, priv, `{"name":"alice"}`)
	wrongKind.Kind = 1
	if err := nostr.Sign(wrongKind, priv); err != nil {
		t.Fatal(err)
	}

	engine.ApplyProfile(ctx, result.Identity, nil)
	engine.ApplyProfile(ctx, result.Identity, foreign)
	engine.ApplyProfile(ctx, result.Identity, tampered)
	engine.ApplyProfile(ctx, result.Identity, wrongKind)

	if _, ok := accounts.profileFor(result.Identity.AccountID); ok {
		t.Error("invalid profile event decorated the account")
	}
}

func TestLoginNilEvent(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Login(context.Background(), nil)
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if result.Reason != RejectWrongKind {
		t.Errorf("reason = %s, want wrong_kind", result.Reason)
	}
}
