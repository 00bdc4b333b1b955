package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestFileLogger(t *testing.T) *FileLogger {
	t.Helper()

	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{
			"file_path": filepath.Join(t.TempDir(), "audit.log"),
		},
	})
	if err != nil {
		t.Fatalf("Failed to create file logger: %v", err)
	}
	t.Cleanup(func() {
		logger.Close()
	})
	return logger
}

func TestFileLoggerLogAndQuery(t *testing.T) {
	logger := newTestFileLogger(t)

	actions := []struct {
		action  string
		success bool
	}{
		{"KEYS_RELOAD_INITIATED", true},
		{"KEYS_RELOAD_COMPLETED", true},
		{"DECRYPT_FAILED", false},
	}

	for _, a := range actions {
		if err := logger.Log(a.action, a.success, map[string]interface{}{
			"request_id": "s_1",
		}); err != nil {
			t.Fatalf("Failed to log %s: %v", a.action, err)
		}
	}

	// Query everything
	result, err := logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.TotalCount != len(actions) {
		t.Errorf("Expected %d events, got %d", len(actions), result.TotalCount)
	}

	// Filter by action
	result, err = logger.Query(QueryOptions{Action: "DECRYPT_FAILED"})
	if err != nil {
		t.Fatalf("Filtered query failed: %v", err)
	}
	if result.Filtered != 1 {
		t.Fatalf("Expected 1 DECRYPT_FAILED event, got %d", result.Filtered)
	}
	if result.Events[0].Success {
		t.Error("DECRYPT_FAILED event should not be marked successful")
	}

	// Filter by success
	failuresOnly := false
	result, err = logger.Query(QueryOptions{Success: &failuresOnly})
	if err != nil {
		t.Fatalf("Success-filtered query failed: %v", err)
	}
	if result.Filtered != 1 {
		t.Errorf("Expected 1 failure event, got %d", result.Filtered)
	}
}

func TestFileLoggerQueryTimeRange(t *testing.T) {
	logger := newTestFileLogger(t)

	if err := logger.Log("SECRETS_INITIALIZED", true, nil); err != nil {
		t.Fatalf("Failed to log: %v", err)
	}

	future := time.Now().Add(time.Hour)
	result, err := logger.Query(QueryOptions{Since: &future})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 0 {
		t.Errorf("Expected no events after %v, got %d", future, result.Filtered)
	}

	past := time.Now().Add(-time.Hour)
	result, err = logger.Query(QueryOptions{Since: &past})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 1 {
		t.Errorf("Expected 1 event since %v, got %d", past, result.Filtered)
	}
}

func TestFileLoggerKeyAccessFilter(t *testing.T) {
	logger := newTestFileLogger(t)

	events := []string{"SECRETS_INITIALIZED", "KEYS_RELOAD_COMPLETED", "DECRYPT_COMPLETED"}
	for _, action := range events {
		if err := logger.Log(action, true, nil); err != nil {
			t.Fatalf("Failed to log %s: %v", action, err)
		}
	}

	result, err := logger.Query(QueryOptions{KeyAccess: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Filtered != 2 {
		t.Errorf("Expected 2 key-access events, got %d: %+v", result.Filtered, result.Events)
	}
}

func TestFileLoggerReopensAfterClose(t *testing.T) {
	logger := newTestFileLogger(t)

	if err := logger.Log("SECRETS_INITIALIZED", true, nil); err != nil {
		t.Fatalf("Failed to log: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A shared logger may outlive one context; logging must reopen the file
	if err := logger.Log("SECRETS_CLOSED", true, nil); err != nil {
		t.Fatalf("Log after Close failed: %v", err)
	}
}

func TestFileLoggerRequiresFilePath(t *testing.T) {
	_, err := NewFileLogger(&Config{Enabled: true, Type: FileAuditType})
	if err == nil {
		t.Fatal("Expected error for missing file_path")
	}
}

func TestNewLoggerFactory(t *testing.T) {
	t.Run("DisabledGivesNoOp", func(t *testing.T) {
		logger, err := NewLogger(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if _, ok := logger.(*NoOpLogger); !ok {
			t.Errorf("Expected NoOpLogger, got %T", logger)
		}
	})

	t.Run("NilConfigGivesNoOp", func(t *testing.T) {
		logger, err := NewLogger(nil)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if _, ok := logger.(*NoOpLogger); !ok {
			t.Errorf("Expected NoOpLogger, got %T", logger)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		if _, err := NewLogger(&Config{Enabled: true, Type: "telegraph"}); err == nil {
			t.Error("Expected error for unknown audit provider")
		}
	})
}
