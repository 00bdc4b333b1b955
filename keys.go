package secrets

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"

	"github.com/awnumar/memguard"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/ssh"
	"software.sslmate.com/src/go-pkcs12"
)

// PrivateKey is an imported, decrypt-ready private key handle. A handle
// is owned exclusively by the store entry it was inserted under and is
// wiped when that entry is removed or the context is closed; callers
// never hold one across a reload.
type PrivateKey struct {
	id        KeyID
	decrypter crypto.Decrypter
	source    string
}

// ID returns the identifier derived from this key's public component.
func (p *PrivateKey) ID() KeyID {
	return p.id
}

// Source returns the descriptor location the key was imported from.
func (p *PrivateKey) Source() string {
	return p.source
}

// Public returns the key's public component.
func (p *PrivateKey) Public() crypto.PublicKey {
	return p.decrypter.Public()
}

// decrypt runs the asymmetric primitive over ciphertext and copies the
// plaintext into a buffer owned by the caller. RSA PKCS#1 v1.5 padding,
// the scheme used for session-key transport in captured traffic.
func (p *PrivateKey) decrypt(ciphertext []byte) ([]byte, error) {
	if p.decrypter == nil {
		return nil, fmt.Errorf("%w: key handle destroyed", ErrDecrypt)
	}
	plain, err := p.decrypter.Decrypt(rand.Reader, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	// Explicit copy-out: the caller owns the returned buffer outright.
	out := make([]byte, len(plain))
	copy(out, plain)
	memguard.WipeBytes(plain)
	return out, nil
}

// Destroy wipes the private key material as far as Go permits and drops
// the handle's reference to it. The handle is unusable afterwards.
func (p *PrivateKey) Destroy() {
	if rsaKey, ok := p.decrypter.(*rsa.PrivateKey); ok {
		wipeBigInt(rsaKey.D)
		for _, prime := range rsaKey.Primes {
			wipeBigInt(prime)
		}
		rsaKey.Precomputed = rsa.PrecomputedValues{}
	}
	p.decrypter = nil
}

// wipeBigInt zeroes the word backing of a big.Int in place.
func wipeBigInt(v *big.Int) {
	if v == nil {
		return
	}
	words := v.Bits()
	for i := range words {
		words[i] = 0
	}
	v.SetInt64(0)
}

// ImportKeyFile opens a key source that is a filesystem location and
// imports the private key it contains.
//
// Exactly one parse strategy is attempted, selected by whether a
// credential was supplied; there is no silent fallback between them:
//
//   - empty credential: the file must be an unencrypted container, that
//     is a PEM-encoded PKCS#1 or PKCS#8 key, or an unprotected OpenSSH key.
//   - non-empty credential: the file must be a password-protected
//     container (a PKCS#12 bundle, an encrypted PKCS#8 PEM block, or a
//     passphrase-protected OpenSSH key); the credential unlocks it.
//
// The key must be RSA; the store exists to recover session material
// encrypted under a peer's RSA public key, and other algorithms have no
// decrypt role here. On success the returned identifier is the SHA-1
// fingerprint of the key's public component and the handle is ready for
// decryption.
//
// Failures wrap ErrIO (file unreadable), ErrParse (container
// undecodable with the chosen strategy/credential, or not RSA) or
// ErrFingerprint (digest fault).
func ImportKeyFile(location, credential string) (KeyID, *PrivateKey, error) {
	var id KeyID

	data, err := os.ReadFile(location)
	if err != nil {
		return id, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer memguard.WipeBytes(data)

	var parsed interface{}
	if credential == "" {
		parsed, err = parsePlainContainer(data)
	} else {
		parsed, err = parseProtectedContainer(data, credential)
	}
	if err != nil {
		return id, nil, err
	}

	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return id, nil, fmt.Errorf("%w: %T is not an RSA private key", ErrParse, parsed)
	}
	if err = rsaKey.Validate(); err != nil {
		return id, nil, fmt.Errorf("%w: invalid RSA key: %v", ErrParse, err)
	}

	id, err = KeyIDFromPublicKey(&rsaKey.PublicKey)
	if err != nil {
		return id, nil, err
	}

	return id, &PrivateKey{id: id, decrypter: rsaKey, source: location}, nil
}

// parsePlainContainer decodes an unencrypted key container. Encrypted
// blocks are rejected here: a file that needs a credential must be
// imported with one, not guessed at.
func parsePlainContainer(data []byte) (interface{}, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrParse)
	}
	defer memguard.WipeBytes(block.Bytes)

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := parsePKCS1OrPKCS8(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := parsePKCS8OrPKCS1(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return key, nil
	case "OPENSSH PRIVATE KEY":
		key, err := ssh.ParseRawPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return key, nil
	case "ENCRYPTED PRIVATE KEY":
		return nil, fmt.Errorf("%w: container is password-protected but no credential was supplied", ErrParse)
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block %q", ErrParse, block.Type)
	}
}

// parseProtectedContainer decodes a password-protected key container
// using the supplied credential. An unprotected file fails here: the
// credential was an explicit statement about the container format.
func parseProtectedContainer(data []byte, credential string) (interface{}, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		// Not PEM; assume a binary PKCS#12 bundle.
		key, _, err := pkcs12.Decode(data, credential)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return key, nil
	}
	defer memguard.WipeBytes(block.Bytes)

	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(credential))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return key, nil
	case "OPENSSH PRIVATE KEY":
		key, err := ssh.ParseRawPrivateKeyWithPassphrase(data, []byte(credential))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: credential supplied but PEM block %q is not a protected container", ErrParse, block.Type)
	}
}

// parsePKCS1OrPKCS8 parses DER bytes labelled as PKCS#1, falling back to
// PKCS#8 for files written with a mismatched PEM header.
func parsePKCS1OrPKCS8(der []byte) (interface{}, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return x509.ParsePKCS8PrivateKey(der)
}

// parsePKCS8OrPKCS1 is the mirror image for "PRIVATE KEY" blocks.
func parsePKCS8OrPKCS1(der []byte) (interface{}, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}
