package secrets

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"southwinds.dev/secrets/persist"
)

// sourceTableVersion is the current on-disk format of the key-source table.
const sourceTableVersion = 1

// sourceTable is the YAML document persisted by a Store. Credentials are
// stored alongside locations so a capture host can reload keys unattended;
// the table file itself carries the store's restrictive permissions.
type sourceTable struct {
	Version int         `yaml:"version"`
	Sources []KeySource `yaml:"sources"`
}

// LoadKeySources reads the key-source table from the given store and
// returns the descriptors plus the store version for optimistic updates.
// A store with no table yet yields an empty slice and an empty version.
func LoadKeySources(store persist.Store) ([]KeySource, string, error) {
	exists, err := store.SourcesExist()
	if err != nil {
		return nil, "", fmt.Errorf("failed to check key-source table: %w", err)
	}
	if !exists {
		return nil, "", nil
	}

	versioned, err := store.LoadSources()
	if err != nil {
		return nil, "", err
	}

	var table sourceTable
	if err = yaml.Unmarshal(versioned.Data, &table); err != nil {
		return nil, "", fmt.Errorf("failed to decode key-source table: %w", err)
	}
	if table.Version > sourceTableVersion {
		return nil, "", fmt.Errorf("key-source table version %d is newer than supported version %d",
			table.Version, sourceTableVersion)
	}

	return table.Sources, versioned.Version, nil
}

// SaveKeySources writes the key-source table through the given store.
// expectedVersion must match the version returned by the last load, or
// be empty when creating the table for the first time.
func SaveKeySources(store persist.Store, sources []KeySource, expectedVersion string) (string, error) {
	table := sourceTable{
		Version: sourceTableVersion,
		Sources: sources,
	}

	data, err := yaml.Marshal(&table)
	if err != nil {
		return "", fmt.Errorf("failed to encode key-source table: %w", err)
	}

	newVersion, err := store.SaveSources(data, expectedVersion)
	if err != nil {
		return "", err
	}
	return newVersion, nil
}
