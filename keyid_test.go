package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"
)

func TestKeyIDFromPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	id1, err := KeyIDFromPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to derive key ID: %v", err)
	}

	// Deriving again from the same public key must give the same ID
	id2, err := KeyIDFromPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to derive key ID a second time: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Key ID is not deterministic: %s vs %s", id1, id2)
	}

	// A different key must give a different ID
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate second RSA key: %v", err)
	}
	otherID, err := KeyIDFromPublicKey(&other.PublicKey)
	if err != nil {
		t.Fatalf("Failed to derive key ID for second key: %v", err)
	}
	if id1 == otherID {
		t.Error("Two different keys produced the same key ID")
	}
}

func TestKeyIDString(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	id, err := KeyIDFromPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to derive key ID: %v", err)
	}

	s := id.String()
	if len(s) != KeyIDSize*2 {
		t.Errorf("Expected %d hex characters, got %d (%s)", KeyIDSize*2, len(s), s)
	}
	if s != strings.ToLower(s) {
		t.Errorf("Expected lowercase hex, got %s", s)
	}
}

func TestParseKeyID(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	id, err := KeyIDFromPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to derive key ID: %v", err)
	}

	parsed, err := ParseKeyID(id.String())
	if err != nil {
		t.Fatalf("Failed to parse key ID %s: %v", id, err)
	}
	if parsed != id {
		t.Errorf("Parsed key ID %s doesn't match original %s", parsed, id)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", "abcdef"},
		{"too long", id.String() + "00"},
		{"not hex", strings.Repeat("zz", KeyIDSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseKeyID(tt.input); err == nil {
				t.Errorf("Expected error parsing %q, got none", tt.input)
			}
		})
	}
}

func TestKeyIDFold(t *testing.T) {
	// Folding XORs the five 32-bit words of the digest
	id := KeyID{
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x04,
		0x00, 0x00, 0x00, 0x08,
		0x00, 0x00, 0x00, 0x10,
	}

	if got := id.Fold(); got != 0x1f {
		t.Errorf("Expected fold 0x1f, got 0x%08x", got)
	}

	// All-zero digest folds to zero
	var zero KeyID
	if got := zero.Fold(); got != 0 {
		t.Errorf("Expected zero fold, got 0x%08x", got)
	}
}
