// Package nwc implements the Nostr Wallet Connect (NIP-47) client side:
// connection string parsing and the encrypted request/response RPC protocol
// used to talk to a Lightning wallet through a relay.
package nwc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nostrpay-server/internal/nips"
	"nostrpay-server/internal/nostr"
)

const uriScheme = "nostr+walletconnect://"

// Connection string parse errors.
var (
	ErrMalformedScheme = errors.New("nwc: connection string must start with nostr+walletconnect://")
	ErrMissingRelay    = errors.New("nwc: connection string must include at least one relay parameter")
	ErrMissingSecret   = errors.New("nwc: connection string must include a secret parameter")
	ErrInvalidHex      = errors.New("nwc: invalid hex in connection string")
)

// Connection holds the parsed wallet connection. It is immutable once
// parsed; callers re-parse the stored string on each use so the secret key
// only lives as long as the request that needs it.
type Connection struct {
	WalletPubKey []byte   // wallet service pubkey (32 bytes)
	Secret       []byte   // client secret key for this NWC session (32 bytes)
	ClientPubKey []byte   // derived from Secret
	Relays       []string // at least one
	Lud16        string   // optional lightning address hint

	conversationKey []byte // NIP-44
	nip04Key        []byte // NIP-04
}

// WalletPubKeyHex returns the wallet's public key as hex string
func (c *Connection) WalletPubKeyHex() string {
	return hex.EncodeToString(c.WalletPubKey)
}

// ClientPubKeyHex returns the client's public key as hex string
func (c *Connection) ClientPubKeyHex() string {
	return hex.EncodeToString(c.ClientPubKey)
}

// ParseConnectionString parses a nostr+walletconnect:// URI.
// Format: nostr+walletconnect://<wallet-pubkey>?relay=<wss://...>&secret=<hex>[&relay=...][&lud16=...]
//
// Two quirks seen in the wild are tolerated: a space instead of the + sign
// (a common paste error) is auto-corrected, and a fully URL-encoded string
// (Coinos exports wss%3A%2F%2F... forms) is decoded once before parsing.
func ParseConnectionString(raw string) (*Connection, error) {
	value := strings.TrimSpace(raw)

	if strings.HasPrefix(value, "nostr walletconnect://") {
		value = strings.Replace(value, "nostr walletconnect://", uriScheme, 1)
	}

	if strings.Contains(value, "%") {
		decoded, err := url.QueryUnescape(value)
		if err == nil {
			value = decoded
		}
	}

	if !strings.HasPrefix(strings.ToLower(value), uriScheme) {
		return nil, ErrMalformedScheme
	}

	// Go's url.Parse rejects the nostr+walletconnect host form, so swap the
	// scheme for parsing only
	parseable := "https://" + value[len(uriScheme):]
	u, err := url.Parse(parseable)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedScheme, err)
	}

	walletPubKeyHex := u.Host
	if !nostr.IsValidPubKeyHex(walletPubKeyHex) {
		return nil, fmt.Errorf("%w: wallet pubkey must be 64 lowercase hex characters", ErrInvalidHex)
	}
	walletPubKey, err := hex.DecodeString(walletPubKeyHex)
	if err != nil {
		return nil, ErrInvalidHex
	}

	query := u.Query()

	relays := query["relay"]
	if len(relays) == 0 {
		return nil, ErrMissingRelay
	}
	for _, r := range relays {
		if !strings.HasPrefix(r, "wss://") && !strings.HasPrefix(r, "ws://") {
			return nil, fmt.Errorf("%w: relay %q must start with wss:// or ws://", ErrMissingRelay, r)
		}
	}

	secretHex := query.Get("secret")
	if secretHex == "" {
		return nil, ErrMissingSecret
	}
	if len(secretHex) != 64 {
		return nil, fmt.Errorf("%w: secret must be 64 hex characters", ErrInvalidHex)
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, ErrInvalidHex
	}

	clientPubKey, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("nwc: derive client pubkey: %w", err)
	}

	conversationKey, err := nips.ConversationKey(secret, walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("nwc: compute conversation key: %w", err)
	}
	nip04Key, err := nips.Nip04SharedSecret(secret, walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("nwc: compute nip04 shared key: %w", err)
	}

	return &Connection{
		WalletPubKey:    walletPubKey,
		Secret:          secret,
		ClientPubKey:    clientPubKey,
		Relays:          relays,
		Lud16:           query.Get("lud16"),
		conversationKey: conversationKey,
		nip04Key:        nip04Key,
	}, nil
}
