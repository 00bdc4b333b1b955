package secrets

// Options carries the construction-time configuration of the secrets
// context. The zero value is valid: auditing defaults to the logger
// passed to New, memory locking stays off, and operations are attributed
// to the "system" user.
//
// Nothing in Options is sensitive; key-source credentials live in the
// configuration collaborator's descriptor table and are only ever passed
// through ReloadKeys, never retained here.
type Options struct {
	// EnableMemoryLock asks the context to lock process memory against
	// swapping for the lifetime of the context. The lock is best-effort:
	// on platforms or privilege levels where it is unavailable the
	// context downgrades to partial protection and keeps working.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// UserID attributes audit events to the operator or subsystem that
	// constructed the context. Empty means "system".
	UserID string `json:"-"`
}

// Validate checks the Options configuration.
func (o Options) Validate() error {
	// All fields currently have safe zero values; the hook exists so
	// construction fails loudly once an invalid combination is possible.
	return nil
}
