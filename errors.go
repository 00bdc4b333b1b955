package secrets

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors returned by the key store. Callers match them with
// errors.Is; every returned error wraps exactly one of these so the
// failure class survives the extra context added along the way.
var (
	// ErrClosed is returned by any operation invoked after Close.
	ErrClosed = errors.New("secrets: service is closed")

	// ErrIO indicates a key source could not be read at all
	// (missing file, permission problem, truncated read).
	ErrIO = errors.New("secrets: key source unreadable")

	// ErrParse indicates the key container could not be decoded with the
	// strategy selected by the supplied credential. A wrong password and
	// a corrupt container are indistinguishable here on purpose.
	ErrParse = errors.New("secrets: key container undecodable")

	// ErrFingerprint indicates the public-key digest step failed or
	// produced an unexpected width. This is an internal consistency
	// fault, not a user configuration problem.
	ErrFingerprint = errors.New("secrets: key fingerprint failed")

	// ErrKeyNotFound is returned by DecryptWithKey when no private key
	// matching the requested identifier is loaded.
	ErrKeyNotFound = errors.New("secrets: no private key for identifier")

	// ErrDecrypt is returned when the decryption primitive rejects the
	// ciphertext/key pairing. No plaintext accompanies it.
	ErrDecrypt = errors.New("secrets: decryption failed")
)

// ReloadReport aggregates the per-descriptor failures of a single
// ReloadKeys pass. It implements error so the configuration collaborator
// can surface it directly; the store still holds every key that loaded
// successfully, so a non-nil report is a partial failure, never a
// replacement for the loaded state.
type ReloadReport struct {
	// Failures maps a descriptor location to the cause of its failure.
	Failures map[string]error
}

func newReloadReport() *ReloadReport {
	return &ReloadReport{Failures: make(map[string]error)}
}

func (r *ReloadReport) add(location string, err error) {
	r.Failures[location] = err
}

// Empty reports whether every descriptor loaded (or was skipped) cleanly.
func (r *ReloadReport) Empty() bool {
	return len(r.Failures) == 0
}

// Error renders the aggregated report as one multi-line message, one
// line per failing location, in stable (sorted) order.
func (r *ReloadReport) Error() string {
	locations := make([]string, 0, len(r.Failures))
	for location := range r.Failures {
		locations = append(locations, location)
	}
	sort.Strings(locations)

	var b strings.Builder
	b.WriteString("error processing key sources:")
	for _, location := range locations {
		b.WriteString(fmt.Sprintf("\n%s: %v", location, r.Failures[location]))
	}
	return b.String()
}

// Unwrap exposes the individual failures so errors.Is works against the
// sentinel classes (e.g. errors.Is(report, ErrIO)).
func (r *ReloadReport) Unwrap() []error {
	errs := make([]error, 0, len(r.Failures))
	for _, err := range r.Failures {
		errs = append(errs, err)
	}
	return errs
}
