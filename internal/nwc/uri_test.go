package nwc

import (
	"errors"
	"testing"
)

const (
	testWalletPubKey = "b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4"
	testSecret       = "71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c"
)

func validConnString() string {
	return "nostr+walletconnect://" + testWalletPubKey +
		"?relay=wss%3A%2F%2Frelay.damus.io&secret=" + testSecret
}

func TestParseConnectionString(t *testing.T) {
	raw := "nostr+walletconnect://" + testWalletPubKey +
		"?relay=wss://relay.getalby.com/v1&secret=" + testSecret + "&lud16=user@getalby.com"

	conn, err := ParseConnectionString(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if conn.WalletPubKeyHex() != testWalletPubKey {
		t.Errorf("wallet pubkey = %s", conn.WalletPubKeyHex())
	}
	if len(conn.Relays) != 1 || conn.Relays[0] != "wss://relay.getalby.com/v1" {
		t.Errorf("relays = %v", conn.Relays)
	}
	if conn.Lud16 != "user@getalby.com" {
		t.Errorf("lud16 = %s", conn.Lud16)
	}
	if len(conn.ClientPubKey) != 32 {
		t.Errorf("client pubkey is %d bytes", len(conn.ClientPubKey))
	}
}

func TestParseConnectionStringPercentEncoded(t *testing.T) {
	conn, err := ParseConnectionString(validConnString())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(conn.Relays) != 1 || conn.Relays[0] != "wss://relay.damus.io" {
		t.Errorf("relays = %v, want decoded wss://relay.damus.io", conn.Relays)
	}
}

func TestParseConnectionStringSpaceTypo(t *testing.T) {
	raw := "nostr walletconnect://" + testWalletPubKey +
		"?relay=wss://relay.damus.io&secret=" + testSecret

	conn, err := ParseConnectionString(raw)
	if err != nil {
		t.Fatalf("space-typo string rejected: %v", err)
	}
	if conn.WalletPubKeyHex() != testWalletPubKey {
		t.Errorf("wallet pubkey = %s", conn.WalletPubKeyHex())
	}
}

func TestParseConnectionStringWhitespace(t *testing.T) {
	if _, err := ParseConnectionString("  " + validConnString() + "\n"); err != nil {
		t.Errorf("surrounding whitespace rejected: %v", err)
	}
}

func TestParseConnectionStringMultipleRelays(t *testing.T) {
	raw := "nostr+walletconnect://" + testWalletPubKey +
		"?relay=wss://relay.one&relay=wss://relay.two&secret=" + testSecret

	conn, err := ParseConnectionString(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(conn.Relays) != 2 {
		t.Errorf("got %d relays, want 2", len(conn.Relays))
	}
}

func TestParseConnectionStringErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrMalformedScheme},
		{"wrong scheme", "https://example.com", ErrMalformedScheme},
		{
			"missing relay",
			"nostr+walletconnect://" + testWalletPubKey + "?secret=" + testSecret,
			ErrMissingRelay,
		},
		{
			"http relay",
			"nostr+walletconnect://" + testWalletPubKey + "?relay=https://not-a-relay&secret=" + testSecret,
			ErrMissingRelay,
		},
		{
			"missing secret",
			"nostr+walletconnect://" + testWalletPubKey + "?relay=wss://relay.damus.io",
			ErrMissingSecret,
		},
		{
			"short secret",
			"nostr+walletconnect://" + testWalletPubKey + "?relay=wss://relay.damus.io&secret=abcd",
			ErrInvalidHex,
		},
		{
			"bad wallet pubkey",
			"nostr+walletconnect://nothex?relay=wss://relay.damus.io&secret=" + testSecret,
			ErrInvalidHex,
		},
		{
			"truncated wallet pubkey",
			"nostr+walletconnect://" + testWalletPubKey[:40] + "?relay=wss://relay.damus.io&secret=" + testSecret,
			ErrInvalidHex,
		},
	}

	for _, tc := range cases {
		_, err := ParseConnectionString(tc.raw)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestParseConnectionStringDerivesKeys(t *testing.T) {
	first, err := ParseConnectionString(validConnString())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	second, err := ParseConnectionString(validConnString())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	// Same string must yield the same derived client identity
	if first.ClientPubKeyHex() != second.ClientPubKeyHex() {
		t.Error("client pubkey derivation is not deterministic")
	}
}
