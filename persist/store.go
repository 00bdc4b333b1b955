// Package persist stores the key-source descriptor table on behalf of
// the configuration collaborator. The table itself is a small opaque
// document to this package; encoding and decoding live with the caller.
package persist

import (
	"errors"
	"fmt"
	"time"
)

// VersionedData is a stored document together with its version tag.
type VersionedData struct {
	Data      []byte
	Version   string // content hash or backend ETag
	Timestamp time.Time
}

// Store persists the key-source table. Implementations must apply
// optimistic concurrency: a save with a stale expected version fails
// with ConcurrencyError instead of clobbering a concurrent edit.
type Store interface {

	// SaveSources writes the serialized key-source table. Pass the
	// version returned by the last load, or "" when creating the table
	// for the first time. Returns the new version on success.
	SaveSources(data []byte, expectedVersion string) (newVersion string, err error)

	// LoadSources reads the serialized key-source table.
	LoadSources() (*VersionedData, error)

	// SourcesExist reports whether a table has been saved at all.
	SourcesExist() (bool, error)

	// Ping tests connectivity for remote backends.
	Ping() error

	// Close releases any resources the store holds.
	Close() error

	// GetType identifies the backend ("filesystem", "s3").
	GetType() string
}

// StoreConfig selects and configures a storage backend.
//
// Example:
//
//	config := persist.StoreConfig{
//	    Type:   persist.StoreTypeFileSystem,
//	    Config: map[string]interface{}{"base_path": "/etc/secrets"},
//	}
type StoreConfig struct {
	// Type must be one of the StoreType constants.
	Type StoreType `json:"type"`

	// Config holds backend-specific settings. For the filesystem store
	// this is "base_path"; for S3 it includes "endpoint", "bucket",
	// "prefix", "access_key", "secret_key" and "use_ssl".
	Config map[string]interface{} `json:"config"`
}

// StoreType names a storage backend.
type StoreType string

const (
	// StoreTypeFileSystem keeps the table in a local file.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 keeps the table in an S3-compatible object store.
	StoreTypeS3 StoreType = "s3"
)

// ConcurrencyError reports a version conflict between the expected and
// stored table versions.
type ConcurrencyError struct {
	ExpectedVersion string
	ActualVersion   string
	Operation       string
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("version conflict in %s: expected version %s, but found %s",
		e.Operation, e.ExpectedVersion, e.ActualVersion)
}

func (e ConcurrencyError) IsConcurrencyError() bool {
	return true
}

// IsConcurrencyError reports whether err is a version conflict from any
// store implementation.
func IsConcurrencyError(err error) bool {
	var conflict interface{ IsConcurrencyError() bool }
	return errors.As(err, &conflict) && conflict.IsConcurrencyError()
}
