package secrets

import (
	"southwinds.dev/secrets/audit"
	"southwinds.dev/secrets/internal/mem"
)

// Service is the surface the secret-material context exposes to its
// collaborators. Three parties consume it, each through a different
// slice of the interface:
//
//   - the capture-file parser feeds secret blocks in via DispatchSecrets,
//   - protocol decoders install handlers with RegisterType and recover
//     session material with DecryptWithKey,
//   - the configuration collaborator repopulates the key store with
//     ReloadKeys whenever its key-source table changes.
//
// One Service instance exists per process, constructed explicitly with
// New and torn down with Close; the wiring code hands the same instance
// to every collaborator rather than threading tables through each call.
type Service interface {

	// Secret-type registry

	// RegisterType installs a handler for a secret-block type. The last
	// registration for a type wins; RegisterType never fails.
	RegisterType(typ SecretType, handler BlockHandler)

	// DispatchSecrets routes one raw secret block to the handler
	// registered for its type, synchronously. Unknown types are dropped
	// silently and handler-internal failures stay inside the handler;
	// dispatch itself has no failure mode.
	DispatchSecrets(typ SecretType, block []byte)

	// Private-key store

	// ReloadKeys fully replaces the store contents from the descriptor
	// list, loading best-effort per entry. A non-nil error is the
	// aggregated *ReloadReport of the entries that failed; the keys
	// that loaded are in service regardless.
	ReloadKeys(descriptors []KeySource) error

	// DecryptWithKey recovers plaintext encrypted under the public key
	// identified by keyID, or fails with ErrKeyNotFound / ErrDecrypt.
	DecryptWithKey(keyID KeyID, ciphertext []byte) ([]byte, error)

	// KeyIDs lists the identifiers of the currently loaded keys.
	KeyIDs() ([]KeyID, error)

	// Lifecycle

	// MemoryProtectionLevel reports the degree of memory locking the
	// context achieved at construction.
	MemoryProtectionLevel() mem.ProtectionLevel

	// GetAudit returns the audit logger the context was wired with.
	GetAudit() audit.Logger

	// Close wipes every key handle and invalidates the context; all
	// later operations fail with ErrClosed.
	Close() error
}
