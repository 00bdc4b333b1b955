package secrets

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// KeyIDSize is the width of a public-key identifier in bytes (SHA-1).
const KeyIDSize = 20

// KeyID identifies a public key (and therefore the matching private key)
// by the SHA-1 digest of its raw subjectPublicKey, the subject key
// identifier scheme of RFC 5280 §4.2.1.2. Capture streams carry this
// digest as metadata, so the decoding collaborator can name the private
// key it needs without any out-of-band bookkeeping.
//
// Equality is exact byte comparison; KeyID is a comparable array type,
// so it is usable directly as a map key.
type KeyID [KeyIDSize]byte

// KeyIDFromPublicKey derives the identifier for a public key. The digest
// is computed over the DER bytes of the subjectPublicKey BIT STRING
// inside the SubjectPublicKeyInfo encoding of the key.
//
// Returns ErrFingerprint (wrapped) if the key cannot be encoded or the
// digest step misbehaves.
func KeyIDFromPublicKey(pub crypto.PublicKey) (KeyID, error) {
	var id KeyID

	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return id, fmt.Errorf("%w: encoding public key: %v", ErrFingerprint, err)
	}

	// Unpack the SubjectPublicKeyInfo SEQUENCE to get at the raw
	// subjectPublicKey bits the digest is defined over.
	var info struct {
		Algorithm        asn1.RawValue
		SubjectPublicKey asn1.BitString
	}
	if _, err = asn1.Unmarshal(spki, &info); err != nil {
		return id, fmt.Errorf("%w: unpacking SubjectPublicKeyInfo: %v", ErrFingerprint, err)
	}

	sum := sha1.Sum(info.SubjectPublicKey.Bytes)
	if len(sum) != KeyIDSize {
		return id, fmt.Errorf("%w: digest width %d, want %d", ErrFingerprint, len(sum), KeyIDSize)
	}

	copy(id[:], sum[:])
	return id, nil
}

// ParseKeyID decodes the 40-character hex form produced by String.
func ParseKeyID(s string) (KeyID, error) {
	var id KeyID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrFingerprint, err)
	}
	if len(raw) != KeyIDSize {
		return id, fmt.Errorf("%w: identifier width %d, want %d", ErrFingerprint, len(raw), KeyIDSize)
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the lower-case hex form of the identifier, the shape
// used in audit events, debug traces and the CLI.
func (k KeyID) String() string {
	return hex.EncodeToString(k[:])
}

// Fold collapses the identifier into a 32-bit value by xor'ing its five
// 32-bit words. A cryptographic digest is uniformly distributed, so the
// fold is an adequate bucket hint; it is not itself a secure hash.
func (k KeyID) Fold() uint32 {
	var folded uint32
	for i := 0; i < KeyIDSize; i += 4 {
		folded ^= binary.BigEndian.Uint32(k[i : i+4])
	}
	return folded
}
