package nostr

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// GeneratePrivateKey generates a new random secp256k1 private key
func GeneratePrivateKey() ([]byte, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return privKey.Serialize(), nil
}

// GetPublicKey derives the public key from a private key (x-only, 32 bytes,
// BIP-340 format).
func GetPublicKey(privKeyBytes []byte) ([]byte, error) {
	if len(privKeyBytes) != 32 {
		return nil, errors.New("private key must be 32 bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	pubKey := privKey.PubKey()
	return pubKey.SerializeCompressed()[1:], nil
}

// IsValidPubKeyHex reports whether s is a 64-character lowercase hex string.
func IsValidPubKeyHex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
