// Package nostr implements the event codec: canonical serialization,
// content-addressed IDs, schnorr signing and verification (NIP-01).
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostrpay-server/internal/types"
)

// Event kinds used by this server.
const (
	KindProfileMetadata = 0     // NIP-01 profile metadata
	KindClientAuth      = 22242 // NIP-42 style auth event, used for site login
	KindNwcRequest      = 23194 // NIP-47 wallet request
	KindNwcResponse     = 23195 // NIP-47 wallet response
)

// MaxClockSkew is how far an event's created_at may differ from server time
// before it is rejected as stale or from-the-future.
const MaxClockSkew = 300 * time.Second

// Serialize produces the canonical NIP-01 serialization
// [0,pubkey,created_at,kind,tags,content] with no insignificant whitespace.
// Two events with identical field values always serialize identically.
func Serialize(evt *types.Event) []byte {
	tags := evt.Tags
	if tags == nil {
		// Relays hash "[]", not "null", for empty tags
		tags = [][]string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	contentJSON, _ := json.Marshal(evt.Content)

	return []byte(fmt.Sprintf(`[0,"%s",%d,%d,%s,%s]`,
		evt.PubKey,
		evt.CreatedAt,
		evt.Kind,
		tagsJSON,
		contentJSON,
	))
}

// ComputeEventID returns the hex sha256 digest of the canonical serialization.
func ComputeEventID(evt *types.Event) string {
	hash := sha256.Sum256(Serialize(evt))
	return hex.EncodeToString(hash[:])
}

// Sign computes the event ID and schnorr signature in place using the given
// 32-byte private key.
func Sign(evt *types.Event, privKeyBytes []byte) error {
	if len(privKeyBytes) != 32 {
		return fmt.Errorf("private key must be 32 bytes, got %d", len(privKeyBytes))
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)

	evt.ID = ComputeEventID(evt)

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return fmt.Errorf("invalid event ID hex: %w", err)
	}
	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return fmt.Errorf("schnorr sign: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify recomputes the event ID from the canonical serialization and checks
// the schnorr signature against it. Any malformed input (bad hex, wrong
// lengths, ID mismatch) returns false; verification failures are data, not
// faults.
func Verify(evt *types.Event) bool {
	if evt == nil || len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	if ComputeEventID(evt) != evt.ID {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// CheckFreshness reports whether the event's created_at is within maxSkew of
// now in either direction. Blocks replay of old signed events and events
// timestamped in the future.
func CheckFreshness(evt *types.Event, now time.Time, maxSkew time.Duration) bool {
	diff := now.Unix() - evt.CreatedAt
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(maxSkew.Seconds())
}

// ParseEventFromInterface converts raw websocket data to Event (avoids JSON
// re-encoding of the relay frame).
func ParseEventFromInterface(data interface{}) (types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return types.Event{}, false
	}

	evt := types.Event{}

	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}

	if tags, ok := m["tags"].([]interface{}); ok {
		evt.Tags = make([][]string, 0, len(tags))
		for _, tag := range tags {
			if tagArr, ok := tag.([]interface{}); ok {
				strTag := make([]string, 0, len(tagArr))
				for _, elem := range tagArr {
					if s, ok := elem.(string); ok {
						strTag = append(strTag, s)
					}
				}
				evt.Tags = append(evt.Tags, strTag)
			}
		}
	}

	return evt, evt.ID != "" && evt.PubKey != ""
}
