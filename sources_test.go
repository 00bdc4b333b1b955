package secrets

import (
	"testing"

	"southwinds.dev/secrets/persist"
)

func newTestStore(t *testing.T) persist.Store {
	t.Helper()
	store, err := persist.NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create filesystem store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestLoadKeySourcesEmptyStore(t *testing.T) {
	store := newTestStore(t)

	sources, version, err := LoadKeySources(store)
	if err != nil {
		t.Fatalf("LoadKeySources on empty store failed: %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("Expected no sources, got %d", len(sources))
	}
	if version != "" {
		t.Errorf("Expected empty version, got %q", version)
	}
}

func TestSaveAndLoadKeySources(t *testing.T) {
	store := newTestStore(t)

	sources := []KeySource{
		{Location: "/etc/keys/server.pem"},
		{Location: "/etc/keys/legacy.p12", Credential: "bundle-pass"},
		{Location: "pkcs11:token=hsm;object=tls", Credential: "1234"},
	}

	version, err := SaveKeySources(store, sources, "")
	if err != nil {
		t.Fatalf("SaveKeySources failed: %v", err)
	}
	if version == "" {
		t.Fatal("Expected a non-empty version after save")
	}

	loaded, loadedVersion, err := LoadKeySources(store)
	if err != nil {
		t.Fatalf("LoadKeySources failed: %v", err)
	}
	if loadedVersion != version {
		t.Errorf("Loaded version %q, want %q", loadedVersion, version)
	}
	if len(loaded) != len(sources) {
		t.Fatalf("Loaded %d sources, want %d", len(loaded), len(sources))
	}
	for i, src := range sources {
		if loaded[i] != src {
			t.Errorf("Source %d: got %+v, want %+v", i, loaded[i], src)
		}
	}
}

func TestSaveKeySourcesVersionConflict(t *testing.T) {
	store := newTestStore(t)

	version, err := SaveKeySources(store, []KeySource{{Location: "/keys/a.pem"}}, "")
	if err != nil {
		t.Fatalf("Initial save failed: %v", err)
	}

	// A second writer updates the table
	if _, err = SaveKeySources(store, []KeySource{{Location: "/keys/b.pem"}}, version); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	// Saving against the stale version must fail with a concurrency error
	_, err = SaveKeySources(store, []KeySource{{Location: "/keys/c.pem"}}, version)
	if err == nil {
		t.Fatal("Expected a concurrency error for stale version, got nil")
	}
	if !persist.IsConcurrencyError(err) {
		t.Errorf("Expected ConcurrencyError, got %T: %v", err, err)
	}
}
