package nips

import (
	"bytes"
	"strings"
	"testing"

	"nostrpay-server/internal/nostr"
)

func testKeyPair(t *testing.T) (priv, pub []byte) {
	t.Helper()
	priv, err := nostr.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey failed: %v", err)
	}
	pub, err = nostr.GetPublicKey(priv)
	if err != nil {
		t.Fatalf("GetPublicKey failed: %v", err)
	}
	return priv, pub
}

func TestConversationKeySymmetry(t *testing.T) {
	alicePriv, alicePub := testKeyPair(t)
	bobPriv, bobPub := testKeyPair(t)

	aliceKey, err := ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("ConversationKey(alice, bob) failed: %v", err)
	}
	bobKey, err := ConversationKey(bobPriv, alicePub)
	if err != nil {
		t.Fatalf("ConversationKey(bob, alice) failed: %v", err)
	}
	if !bytes.Equal(aliceKey, bobKey) {
		t.Error("conversation keys differ between the two sides")
	}
	if len(aliceKey) != 32 {
		t.Errorf("conversation key is %d bytes, want 32", len(aliceKey))
	}
}

func TestNip44RoundTrip(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)

	key, err := ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("ConversationKey failed: %v", err)
	}

	plaintexts := []string{
		"a",
		"hello world",
		strings.Repeat("x", 31),
		strings.Repeat("x", 32),
		strings.Repeat("x", 33),
		strings.Repeat("long message ", 500),
		`{"method":"lookup_invoice","params":{"invoice":"lnbc1..."}}`,
		"unicode: únïcödé ⚡",
	}

	for _, plaintext := range plaintexts {
		payload, err := Nip44Encrypt(plaintext, key)
		if err != nil {
			t.Fatalf("encrypt %q failed: %v", plaintext, err)
		}
		decrypted, err := Nip44Decrypt(payload, key)
		if err != nil {
			t.Fatalf("decrypt failed for %q: %v", plaintext, err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestNip44EncryptNonDeterministic(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)
	key, _ := ConversationKey(alicePriv, bobPub)

	first, err := Nip44Encrypt("same plaintext", key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	second, err := Nip44Encrypt("same plaintext", key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if first == second {
		t.Error("two encryptions of the same plaintext produced identical payloads")
	}
}

func TestNip44DecryptWrongKey(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)
	evePriv, _ := testKeyPair(t)

	key, _ := ConversationKey(alicePriv, bobPub)
	wrongKey, _ := ConversationKey(evePriv, bobPub)

	payload, err := Nip44Encrypt("secret", key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	if _, err := Nip44Decrypt(payload, wrongKey); err == nil {
		t.Error("decryption with wrong key succeeded")
	}
}

func TestNip44DecryptTampered(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)
	key, _ := ConversationKey(alicePriv, bobPub)

	payload, err := Nip44Encrypt("secret", key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	// Flip a character in the middle of the base64 payload
	tampered := []byte(payload)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}
	if _, err := Nip44Decrypt(string(tampered), key); err == nil {
		t.Error("tampered payload decrypted without error")
	}
}

func TestNip44DecryptMalformed(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)
	key, _ := ConversationKey(alicePriv, bobPub)

	malformed := []string{
		"",
		"not base64 !!!",
		"AAAA",
		"#nip04-looking?iv=irrelevant",
	}
	for _, payload := range malformed {
		if _, err := Nip44Decrypt(payload, key); err == nil {
			t.Errorf("malformed payload %q decrypted without error", payload)
		}
	}
}

func TestCalcPaddedLen(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{1, 32},
		{16, 32},
		{32, 32},
		{33, 64},
		{64, 64},
		{65, 96},
		{100, 128},
		{320, 320},
		{321, 384},
	}
	for _, tc := range cases {
		if got := calcPaddedLen(tc.in); got != tc.want {
			t.Errorf("calcPaddedLen(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPadUnpadRoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 31, 32, 33, 100, 1000} {
		plaintext := bytes.Repeat([]byte{0xab}, size)
		padded, err := pad(plaintext)
		if err != nil {
			t.Fatalf("pad(%d bytes) failed: %v", size, err)
		}
		unpadded, err := unpad(padded)
		if err != nil {
			t.Fatalf("unpad(%d bytes) failed: %v", size, err)
		}
		if !bytes.Equal(unpadded, plaintext) {
			t.Errorf("pad/unpad round trip mismatch at size %d", size)
		}
	}
}

func TestPadRejectsEmpty(t *testing.T) {
	if _, err := pad(nil); err == nil {
		t.Error("pad accepted empty plaintext")
	}
}
