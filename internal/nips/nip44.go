// Package nips implements the encryption envelopes used for NWC payloads:
// NIP-44 version 2 (ChaCha20 + HMAC-SHA256, authenticated) and the legacy
// NIP-04 scheme (AES-256-CBC) still required by some wallets. The RPC client
// pins exactly one scheme per deployment; there is no negotiation here.
package nips

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	nip44Version     = 2
	nip44Salt        = "nip44-v2"
	minPlaintextSize = 1
	maxPlaintextSize = 65535
)

// ErrDecryptFailed is returned for any tampered, truncated, or wrong-key
// envelope. Decryption fails closed; it never returns garbage plaintext.
var ErrDecryptFailed = errors.New("nips: decryption failed")

// ConversationKey calculates the NIP-44 shared secret between two parties:
// ECDH on secp256k1 followed by HKDF-extract with the "nip44-v2" salt.
func ConversationKey(privKeyBytes, pubKeyBytes []byte) ([]byte, error) {
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	if privKey == nil {
		return nil, errors.New("invalid private key")
	}

	pubKey, err := parseXOnlyPubKey(pubKeyBytes)
	if err != nil {
		return nil, err
	}

	// ECDH: multiply pubkey by privkey scalar, keep the x coordinate
	sharedX, _ := pubKey.ToECDSA().Curve.ScalarMult(pubKey.X(), pubKey.Y(), privKey.Serialize())

	// Pad to 32 bytes; x.Bytes() may be shorter when leading bytes are zero
	sharedXBytes := make([]byte, 32)
	raw := sharedX.Bytes()
	copy(sharedXBytes[32-len(raw):], raw)

	return hkdf.Extract(sha256.New, sharedXBytes, []byte(nip44Salt)), nil
}

// parseXOnlyPubKey lifts a 32-byte x-only public key to a full point, trying
// the even y-coordinate first per BIP-340.
func parseXOnlyPubKey(pubKeyBytes []byte) (*btcec.PublicKey, error) {
	if len(pubKeyBytes) != 32 {
		return nil, errors.New("public key must be 32 bytes")
	}
	withPrefix := append([]byte{0x02}, pubKeyBytes...)
	pubKey, err := btcec.ParsePubKey(withPrefix)
	if err != nil {
		withPrefix[0] = 0x03
		pubKey, err = btcec.ParsePubKey(withPrefix)
		if err != nil {
			return nil, errors.New("invalid public key")
		}
	}
	return pubKey, nil
}

// messageKeys derives the ChaCha20 key, ChaCha20 nonce, and HMAC key for one
// message from the conversation key and the per-message nonce.
func messageKeys(conversationKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(conversationKey) != 32 {
		return nil, nil, nil, errors.New("invalid conversation key length")
	}
	if len(nonce) != 32 {
		return nil, nil, nil, errors.New("invalid nonce length")
	}

	reader := hkdf.Expand(sha256.New, conversationKey, nonce)
	keys := make([]byte, 76)
	if _, err := reader.Read(keys); err != nil {
		return nil, nil, nil, err
	}

	return keys[0:32], keys[32:44], keys[44:76], nil
}

// calcPaddedLen calculates the padded length for a given plaintext length
func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return 32
	}

	nextPower := 1 << int(math.Floor(math.Log2(float64(unpaddedLen-1)))+1)
	var chunk int
	if nextPower <= 256 {
		chunk = 32
	} else {
		chunk = nextPower / 8
	}

	return chunk * (int(math.Floor(float64(unpaddedLen-1)/float64(chunk))) + 1)
}

func pad(plaintext []byte) ([]byte, error) {
	unpaddedLen := len(plaintext)
	if unpaddedLen < minPlaintextSize || unpaddedLen > maxPlaintextSize {
		return nil, errors.New("invalid plaintext length")
	}

	paddedLen := calcPaddedLen(unpaddedLen)
	result := make([]byte, 2+paddedLen)

	binary.BigEndian.PutUint16(result[0:2], uint16(unpaddedLen))
	copy(result[2:], plaintext)

	return result, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, errors.New("padded data too short")
	}

	unpaddedLen := int(binary.BigEndian.Uint16(padded[0:2]))
	if unpaddedLen == 0 || unpaddedLen > len(padded)-2 {
		return nil, errors.New("invalid padding")
	}

	if len(padded) != 2+calcPaddedLen(unpaddedLen) {
		return nil, errors.New("invalid padded length")
	}

	return padded[2 : 2+unpaddedLen], nil
}

func hmacAAD(key, message, aad []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(message)
	return h.Sum(nil)
}

// Nip44Encrypt encrypts plaintext using NIP-44 version 2 with a fresh random
// 32-byte nonce. Nonces are never reused across messages.
func Nip44Encrypt(plaintext string, conversationKey []byte) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return nip44EncryptWithNonce(plaintext, conversationKey, nonce)
}

func nip44EncryptWithNonce(plaintext string, conversationKey, nonce []byte) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	mac := hmacAAD(hmacKey, ciphertext, nonce)

	// version || nonce || ciphertext || mac
	result := make([]byte, 1+32+len(ciphertext)+32)
	result[0] = nip44Version
	copy(result[1:33], nonce)
	copy(result[33:33+len(ciphertext)], ciphertext)
	copy(result[33+len(ciphertext):], mac)

	return base64.StdEncoding.EncodeToString(result), nil
}

// Nip44Decrypt decrypts a NIP-44 envelope. The MAC is verified before
// decryption; any mismatch returns ErrDecryptFailed.
func Nip44Decrypt(payload string, conversationKey []byte) (string, error) {
	// '#' marks a future version indicator per the NIP
	if len(payload) > 0 && payload[0] == '#' {
		return "", errors.New("unsupported encryption version")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrDecryptFailed
	}

	if len(data) < 99 || len(data) > 65603 {
		return "", ErrDecryptFailed
	}

	if data[0] != nip44Version {
		return "", errors.New("unknown version")
	}

	nonce := data[1:33]
	ciphertext := data[33 : len(data)-32]
	mac := data[len(data)-32:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	expectedMAC := hmacAAD(hmacKey, ciphertext, nonce)
	if !hmac.Equal(expectedMAC, mac) {
		return "", ErrDecryptFailed
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	stream.XORKeyStream(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}
