package nips

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NIP-04 encryption (deprecated but still the only scheme some wallets speak)

// Nip04SharedSecret computes the NIP-04 shared secret: the raw x coordinate
// of the ECDH point per RFC 5903 section 9, padded to 32 bytes.
func Nip04SharedSecret(privKeyBytes, pubKeyBytes []byte) ([]byte, error) {
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	if privKey == nil {
		return nil, errors.New("invalid private key")
	}

	pubKey, err := parseXOnlyPubKey(pubKeyBytes)
	if err != nil {
		return nil, err
	}

	sharedX := btcec.GenerateSharedSecret(privKey, pubKey)
	if len(sharedX) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(sharedX):], sharedX)
		return padded, nil
	}
	return sharedX, nil
}

// Nip04Encrypt encrypts plaintext using AES-256-CBC with a fresh random IV.
// Output format: base64(ciphertext)?iv=base64(iv)
func Nip04Encrypt(plaintext string, sharedSecret []byte) (string, error) {
	if len(sharedSecret) != 32 {
		return "", errors.New("NIP-04 shared secret must be 32 bytes")
	}

	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	// PKCS#7 padding
	plaintextBytes := []byte(plaintext)
	padding := aes.BlockSize - (len(plaintextBytes) % aes.BlockSize)
	padded := make([]byte, len(plaintextBytes)+padding)
	copy(padded, plaintextBytes)
	for i := len(plaintextBytes); i < len(padded); i++ {
		padded[i] = byte(padding)
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Nip04Decrypt decrypts a NIP-04 payload. CBC has no MAC, so a wrong key
// can slip past the padding check; NIP-04 content is always JSON text, so
// the plaintext must additionally be valid UTF-8 before it is accepted.
func Nip04Decrypt(payload string, sharedSecret []byte) (string, error) {
	parts := strings.Split(payload, "?iv=")
	if len(parts) != 2 {
		return "", ErrDecryptFailed
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrDecryptFailed
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(iv) != 16 {
		return "", ErrDecryptFailed
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrDecryptFailed
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plaintext) {
		return "", ErrDecryptFailed
	}
	for i := len(plaintext) - padding; i < len(plaintext); i++ {
		if plaintext[i] != byte(padding) {
			return "", ErrDecryptFailed
		}
	}

	unpadded := plaintext[:len(plaintext)-padding]
	if !utf8.Valid(unpadded) {
		return "", ErrDecryptFailed
	}

	return string(unpadded), nil
}
