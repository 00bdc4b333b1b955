package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"southwinds.dev/secrets/internal/debug"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	sourcesFileName = "key_sources.yaml"
)

// FileSystemStore keeps the key-source table in a single file under a
// base directory, written atomically (temp file + rename) so a crashed
// save never leaves a half-written table behind. Versions are content
// hashes, which gives optimistic concurrency without extra bookkeeping.
type FileSystemStore struct {
	basePath    string
	sourcesFile string // basePath/key_sources.yaml
	tempDir     string // basePath/temp/
}

// NewFileSystemStore initializes a filesystem-backed store rooted at
// basePath, creating the directory layout if needed.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := &FileSystemStore{
		basePath:    basePath,
		sourcesFile: filepath.Join(basePath, sourcesFileName),
		tempDir:     filepath.Join(basePath, "temp"),
	}

	for _, dir := range []string{fs.basePath, fs.tempDir} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return fs, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from StoreConfig.
func NewFileSystemStoreFromConfig(config StoreConfig) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}
	return NewFileSystemStore(basePath)
}

// SaveSources writes the table atomically after checking the expected
// version against the file currently on disk.
func (fs *FileSystemStore) SaveSources(data []byte, expectedVersion string) (string, error) {
	current, err := fs.currentVersion()
	if err != nil {
		return "", err
	}
	if expectedVersion != current {
		return "", ConcurrencyError{
			ExpectedVersion: expectedVersion,
			ActualVersion:   current,
			Operation:       "SaveSources",
		}
	}

	if err = writeSecureFile(fs.tempDir, fs.sourcesFile, data); err != nil {
		return "", fmt.Errorf("failed to write key-source table: %w", err)
	}

	newVersion := contentVersion(data)
	debug.Print("saved key-source table, version %s\n", newVersion)
	return newVersion, nil
}

// LoadSources reads the table and its version from disk.
func (fs *FileSystemStore) LoadSources() (*VersionedData, error) {
	info, err := os.Stat(fs.sourcesFile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fs.sourcesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key-source table: %w", err)
	}

	return &VersionedData{
		Data:      data,
		Version:   contentVersion(data),
		Timestamp: info.ModTime(),
	}, nil
}

// SourcesExist reports whether the table file is present.
func (fs *FileSystemStore) SourcesExist() (bool, error) {
	if _, err := os.Stat(fs.sourcesFile); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ping verifies the base directory is usable.
func (fs *FileSystemStore) Ping() error {
	info, err := os.Stat(fs.basePath)
	if err != nil {
		return fmt.Errorf("base path inaccessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base path %s is not a directory", fs.basePath)
	}
	return nil
}

// Close is a no-op for the filesystem store.
func (fs *FileSystemStore) Close() error {
	return nil
}

// GetType identifies the backend.
func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

// currentVersion returns the version of the table on disk, or "" when
// no table has been saved yet.
func (fs *FileSystemStore) currentVersion() (string, error) {
	data, err := os.ReadFile(fs.sourcesFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read key-source table: %w", err)
	}
	return contentVersion(data), nil
}

// contentVersion derives the version tag from the document bytes.
func contentVersion(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// writeSecureFile writes data to target via a temp file in tempDir and
// an atomic rename, with restrictive permissions throughout.
func writeSecureFile(tempDir, target string, data []byte) error {
	tmp, err := os.CreateTemp(tempDir, fmt.Sprintf(".%s-*", filepath.Base(target)))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err = tmp.Chmod(FilePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move table into place: %w", err)
	}

	_ = os.Chtimes(target, time.Now(), time.Now())
	return nil
}
