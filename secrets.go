package secrets

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"southwinds.dev/secrets/audit"
	"southwinds.dev/secrets/internal/mem"
)

// Initialize memguard before any key material is handled so an interrupt
// cannot leave unwiped buffers behind.
func init() {
	memguard.CatchInterrupt()
}

// Secrets is the process-wide secret-material context: it owns the
// secret-type dispatch table fed by the capture-file parser and the
// private-key store queried by protocol decoders. Collaborators receive
// the one constructed instance at wiring time; nothing in this package
// creates or reaches for a hidden global.
//
// All operations are safe for concurrent use. ReloadKeys builds its
// replacement table off to the side and swaps it in under the write
// lock, so a concurrent DecryptWithKey observes either the pre-reload or
// the post-reload key set, never a half-populated one.
type Secrets struct {
	mu        sync.RWMutex
	callbacks map[SecretType]BlockHandler
	privKeys  map[KeyID]*PrivateKey
	closed    bool

	memoryProtectionLevel mem.ProtectionLevel

	// Audit logging
	audit  audit.Logger
	userID string
}

// compile-time check that the context satisfies the service surface
var _ Service = (*Secrets)(nil)

// New constructs the secret-material context.
//
// The context starts Ready with empty tables: no secret-type handlers
// and no private keys. The configuration collaborator populates the key
// store with ReloadKeys after loading its key-source table; protocol
// decoders install their handlers with RegisterType during wiring.
//
// A nil auditLogger disables auditing via a no-op logger, so audit calls
// never fail on a nil receiver. When opts.EnableMemoryLock is set the
// context attempts to lock process memory against swapping; failure
// downgrades the protection level and is reported on stderr, it is
// never fatal.
func New(opts Options, auditLogger audit.Logger) (*Secrets, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	userID := opts.UserID
	if userID == "" {
		userID = "system"
	}

	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	s := &Secrets{
		callbacks: make(map[SecretType]BlockHandler),
		privKeys:  make(map[KeyID]*PrivateKey),

		memoryProtectionLevel: mem.ProtectionNone,

		audit:  auditLogger,
		userID: userID,
	}

	if opts.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			// Memory locking is best-effort; memguard still wipes key
			// material buffers even without a process-wide lock.
			fmt.Printf("WARNING: cannot fully protect memory: %v\n", err)
		}
		s.memoryProtectionLevel = level
	}

	requestID := s.newRequestID()
	s.logAudit(requestID, "SECRETS_INITIALIZED", nil, map[string]interface{}{
		"memory_protection": s.memoryProtectionLevel,
	})

	return s, nil
}

// MemoryProtectionLevel reports the degree of memory locking achieved at
// construction time.
func (s *Secrets) MemoryProtectionLevel() mem.ProtectionLevel {
	return s.memoryProtectionLevel
}

// GetAudit returns the audit logger the context was wired with, letting
// collaborators emit their own events alongside the context's.
func (s *Secrets) GetAudit() audit.Logger {
	return s.audit
}

// Close tears the context down: every held private-key handle is wiped
// and released, both tables are dropped, and all further operations fail
// with ErrClosed. Close is idempotent.
func (s *Secrets) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	requestID := s.newRequestID()

	for id, key := range s.privKeys {
		key.Destroy()
		delete(s.privKeys, id)
	}
	s.privKeys = nil
	s.callbacks = nil

	if s.memoryProtectionLevel != mem.ProtectionNone {
		if err := mem.Unlock(); err != nil {
			// Non-critical; the process is usually exiting anyway.
			log.Printf("WARNING: failed to unlock memory: %v\n", err)
		}
	}

	s.logAudit(requestID, "SECRETS_CLOSED", nil, nil)
	return nil
}

// logAudit emits one audit event with the standard fields attached.
// Audit failures are logged, never propagated: auditing must not break
// traffic processing.
func (s *Secrets) logAudit(requestID, action string, err error, metadata map[string]interface{}) {
	if s.audit == nil {
		log.Printf("WARNING: skipping audit logging, logger not initialized\n")
		return
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	metadata["user_id"] = s.userID
	metadata["request_id"] = requestID
	metadata["timestamp"] = time.Now().UTC()

	success := err == nil
	if err != nil {
		metadata["error"] = err.Error()
	}

	if auditErr := s.audit.Log(action, success, metadata); auditErr != nil {
		log.Printf("ERROR: audit logging failed for action %s: %v\n", action, auditErr)
	}
}

func (s *Secrets) newRequestID() string {
	return fmt.Sprintf("s_%d", time.Now().UnixNano())
}
