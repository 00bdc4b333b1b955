package secrets

import (
	"errors"
	"path/filepath"
	"testing"

	"southwinds.dev/secrets/audit"
)

func TestNewWithDefaults(t *testing.T) {
	s, err := New(Options{}, nil)
	if err != nil {
		t.Fatalf("New with zero options failed: %v", err)
	}
	defer s.Close()

	// A nil logger is replaced with a no-op so audit calls never crash
	if s.GetAudit() == nil {
		t.Fatal("GetAudit returned nil")
	}
	if _, ok := s.GetAudit().(*audit.NoOpLogger); !ok {
		t.Errorf("Expected NoOpLogger default, got %T", s.GetAudit())
	}

	ids, err := s.KeyIDs()
	if err != nil {
		t.Fatalf("KeyIDs on fresh context failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Fresh context should hold no keys, got %d", len(ids))
	}
}

func TestAuditTrail(t *testing.T) {
	logger, err := audit.NewFileLogger(&audit.Config{
		Enabled: true,
		Type:    audit.FileAuditType,
		Options: map[string]interface{}{
			"file_path": filepath.Join(t.TempDir(), "audit.log"),
		},
	})
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	defer logger.Close()

	s, err := New(Options{UserID: "analyst"}, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	key := generateTestRSAKey(t)
	path := writePKCS1KeyFile(t, key)
	if err = s.ReloadKeys([]KeySource{{Location: path}}); err != nil {
		t.Fatalf("ReloadKeys failed: %v", err)
	}

	// A lookup miss leaves a failure event behind
	var unknown KeyID
	if _, err = s.DecryptWithKey(unknown, []byte("junk")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Expected ErrKeyNotFound, got %v", err)
	}

	if err = s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, action := range []string{
		"SECRETS_INITIALIZED",
		"KEYS_RELOAD_INITIATED",
		"KEYS_RELOAD_COMPLETED",
		"DECRYPT_FAILED",
		"SECRETS_CLOSED",
	} {
		result, err := logger.Query(audit.QueryOptions{Action: action})
		if err != nil {
			t.Fatalf("Query for %s failed: %v", action, err)
		}
		if result.Filtered == 0 {
			t.Errorf("Expected at least one %s event in the audit trail", action)
		}
	}

	// Events carry the operator attribution in metadata
	result, err := logger.Query(audit.QueryOptions{Action: "KEYS_RELOAD_COMPLETED"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got := result.Events[0].Metadata["user_id"]; got != "analyst" {
		t.Errorf("Expected user_id analyst, got %v", got)
	}
}

func TestMemoryProtectionLevelWithoutLock(t *testing.T) {
	s := newTestSecrets(t)

	if got := s.MemoryProtectionLevel(); got.String() != "none" {
		t.Errorf("Expected no memory protection when locking is off, got %s", got)
	}
}
