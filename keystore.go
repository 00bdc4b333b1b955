package secrets

import (
	"fmt"
	"strings"
	"time"

	"southwinds.dev/secrets/internal/debug"
)

// TokenSchemePKCS11 is the location prefix marking a key-source
// descriptor as a hardware-token reference rather than a file path.
// Token-backed keys are accepted in configuration as an extension point
// but cannot be resolved to a decrypt handle here.
const TokenSchemePKCS11 = "pkcs11:"

// KeySource describes where a private key can be obtained and what
// credential, if any, unlocks it. The configuration collaborator owns
// the descriptor list; the store reads descriptors during a reload pass
// and retains nothing from them afterwards.
type KeySource struct {
	// Location is a filesystem path to a key container, or a
	// token-reference URI (a string with the "pkcs11:" scheme prefix).
	Location string `yaml:"location" json:"location"`

	// Credential is the container password or token PIN. Empty means
	// the container is expected to be unencrypted.
	Credential string `yaml:"credential,omitempty" json:"-"`
}

// IsTokenReference reports whether the descriptor names a hardware
// token rather than a local file.
func (k KeySource) IsTokenReference() bool {
	return strings.HasPrefix(k.Location, TokenSchemePKCS11)
}

// ReloadKeys clears the private-key store and repopulates it from the
// descriptor list. The configuration collaborator calls it once after
// every edit to the key-source table, including the initial load.
//
// Loading is best-effort per descriptor, not all-or-nothing: a broken
// entry (missing file, wrong password) is recorded in the returned
// report and the pass moves on, so one bad source never costs the keys
// that still load. Token-reference descriptors are retained in
// configuration but unusable here; each contributes an explicit
// "not supported" report line. A later descriptor whose derived KeyID
// collides with an earlier one overwrites it.
//
// The replacement table is built off to the side and swapped in under
// the write lock, so concurrent DecryptWithKey callers see either the
// previous key set or the new one, never an intermediate. On total
// failure the store is left empty, which disables decryption but harms
// nothing else.
//
// The returned error is nil when every descriptor loaded, otherwise the
// aggregated *ReloadReport naming each failing location and its cause.
func (s *Secrets) ReloadKeys(descriptors []KeySource) error {
	startTime := time.Now()
	requestID := s.newRequestID()

	s.logAudit(requestID, "KEYS_RELOAD_INITIATED", nil, map[string]interface{}{
		"descriptor_count": len(descriptors),
	})

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		s.logAudit(requestID, "KEYS_RELOAD_FAILED", ErrClosed, map[string]interface{}{
			"failure_reason": "service_closed",
			"duration_ms":    time.Since(startTime).Milliseconds(),
		})
		return ErrClosed
	}

	report := newReloadReport()
	replacement := make(map[KeyID]*PrivateKey, len(descriptors))

	for _, desc := range descriptors {
		if desc.IsTokenReference() {
			report.add(desc.Location, fmt.Errorf("token-backed keys are not supported"))
			continue
		}

		id, key, err := ImportKeyFile(desc.Location, desc.Credential)
		if err != nil {
			report.add(desc.Location, err)
			continue
		}

		if previous, collides := replacement[id]; collides {
			previous.Destroy()
		}
		replacement[id] = key
		debug.Print("adding key %s from %s\n", id, desc.Location)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		for _, key := range replacement {
			key.Destroy()
		}
		return ErrClosed
	}
	retired := s.privKeys
	s.privKeys = replacement
	s.mu.Unlock()

	for _, key := range retired {
		key.Destroy()
	}

	var err error
	if !report.Empty() {
		err = report
	}
	s.logAudit(requestID, "KEYS_RELOAD_COMPLETED", err, map[string]interface{}{
		"loaded_keys":   len(replacement),
		"failed_keys":   len(report.Failures),
		"replaced_keys": len(retired),
		"duration_ms":   time.Since(startTime).Milliseconds(),
	})

	if err != nil {
		return err
	}
	return nil
}

// DecryptWithKey recovers plaintext from ciphertext encrypted under the
// public key identified by keyID. This is the decryption oracle the
// decoding collaborator queries while reassembling captured sessions.
//
// Every call re-invokes the primitive; nothing is cached. The plaintext
// is returned in a buffer owned by the caller, byte-for-byte as the
// primitive produced it.
//
// Fails with ErrKeyNotFound when no loaded key matches keyID, ErrDecrypt
// when the primitive rejects the ciphertext/key pairing, and ErrClosed
// after teardown. An undecryptable blob is expected traffic noise, not a
// store fault; the store stays fully usable afterwards.
func (s *Secrets) DecryptWithKey(keyID KeyID, ciphertext []byte) ([]byte, error) {
	startTime := time.Now()
	requestID := s.newRequestID()

	// The read lock is held across the primitive call so a concurrent
	// reload cannot wipe the handle mid-decryption.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	key := s.privKeys[keyID]
	if key == nil {
		err := fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		s.logAudit(requestID, "DECRYPT_FAILED", err, map[string]interface{}{
			"key_id":         keyID.String(),
			"failure_reason": "key_not_found",
			"duration_ms":    time.Since(startTime).Milliseconds(),
		})
		return nil, err
	}

	plaintext, err := key.decrypt(ciphertext)
	if err != nil {
		s.logAudit(requestID, "DECRYPT_FAILED", err, map[string]interface{}{
			"key_id":          keyID.String(),
			"failure_reason":  "primitive_rejected",
			"ciphertext_size": len(ciphertext),
			"duration_ms":     time.Since(startTime).Milliseconds(),
		})
		return nil, err
	}

	s.logAudit(requestID, "DECRYPT_COMPLETED", nil, map[string]interface{}{
		"key_id":          keyID.String(),
		"ciphertext_size": len(ciphertext),
		"plaintext_size":  len(plaintext),
		"duration_ms":     time.Since(startTime).Milliseconds(),
	})

	return plaintext, nil
}

// KeyIDs lists the identifiers of every loaded private key, in no
// particular order. Useful for diagnostics and the CLI; the handles
// themselves never leave the store.
func (s *Secrets) KeyIDs() ([]KeyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	ids := make([]KeyID, 0, len(s.privKeys))
	for id := range s.privKeys {
		ids = append(ids, id)
	}
	return ids, nil
}
