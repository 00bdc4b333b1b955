package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func TestReloadKeysAndDecrypt(t *testing.T) {
	s := newTestSecrets(t)

	key := generateTestRSAKey(t)
	path := writePKCS1KeyFile(t, key)

	if err := s.ReloadKeys([]KeySource{{Location: path}}); err != nil {
		t.Fatalf("ReloadKeys failed: %v", err)
	}

	keyID, err := KeyIDFromPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to derive key ID: %v", err)
	}

	plaintext := []byte("pre-master secret material")
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, plaintext)
	if err != nil {
		t.Fatalf("Failed to encrypt test plaintext: %v", err)
	}

	got, err := s.DecryptWithKey(keyID, ciphertext)
	if err != nil {
		t.Fatalf("DecryptWithKey failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypted %q, want %q", got, plaintext)
	}
}

func TestReloadKeysPartialFailure(t *testing.T) {
	s := newTestSecrets(t)

	good1 := generateTestRSAKey(t)
	good2 := generateTestRSAKey(t)
	goodPath1 := writePKCS1KeyFile(t, good1)
	goodPath2 := writePKCS8KeyFile(t, good2)
	badPath := filepath.Join(t.TempDir(), "missing.pem")

	err := s.ReloadKeys([]KeySource{
		{Location: goodPath1},
		{Location: badPath},
		{Location: goodPath2},
	})

	// One broken source must not cost the keys that load
	if err == nil {
		t.Fatal("Expected a reload report, got nil")
	}

	var report *ReloadReport
	if !errors.As(err, &report) {
		t.Fatalf("Expected *ReloadReport, got %T: %v", err, err)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d: %v", len(report.Failures), report)
	}
	if _, ok := report.Failures[badPath]; !ok {
		t.Errorf("Report doesn't name the failing location %s: %v", badPath, report)
	}
	if !errors.Is(err, ErrIO) {
		t.Errorf("Expected report to wrap ErrIO, got %v", err)
	}

	ids, err := s.KeyIDs()
	if err != nil {
		t.Fatalf("KeyIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("Expected 2 loaded keys, got %d", len(ids))
	}
}

func TestReloadKeysReplacesStore(t *testing.T) {
	s := newTestSecrets(t)

	first := generateTestRSAKey(t)
	second := generateTestRSAKey(t)
	firstPath := writePKCS1KeyFile(t, first)
	secondPath := writePKCS8KeyFile(t, second)

	if err := s.ReloadKeys([]KeySource{{Location: firstPath}}); err != nil {
		t.Fatalf("First reload failed: %v", err)
	}
	if err := s.ReloadKeys([]KeySource{{Location: secondPath}}); err != nil {
		t.Fatalf("Second reload failed: %v", err)
	}

	// The first key was retired by the second reload
	firstID, _ := KeyIDFromPublicKey(&first.PublicKey)
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, &first.PublicKey, []byte("data"))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if _, err = s.DecryptWithKey(firstID, ciphertext); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound for retired key, got %v", err)
	}

	// The second key is in service
	secondID, _ := KeyIDFromPublicKey(&second.PublicKey)
	ciphertext, err = rsa.EncryptPKCS1v15(rand.Reader, &second.PublicKey, []byte("data"))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if _, err = s.DecryptWithKey(secondID, ciphertext); err != nil {
		t.Errorf("Decrypt with current key failed: %v", err)
	}
}

func TestReloadKeysEmptyList(t *testing.T) {
	s := newTestSecrets(t)

	key := generateTestRSAKey(t)
	path := writePKCS1KeyFile(t, key)

	if err := s.ReloadKeys([]KeySource{{Location: path}}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	// An empty descriptor list empties the store
	if err := s.ReloadKeys(nil); err != nil {
		t.Fatalf("Empty reload failed: %v", err)
	}

	ids, err := s.KeyIDs()
	if err != nil {
		t.Fatalf("KeyIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected empty store, got %d keys", len(ids))
	}
}

func TestReloadKeysTokenReference(t *testing.T) {
	s := newTestSecrets(t)

	err := s.ReloadKeys([]KeySource{
		{Location: "pkcs11:token=SoftHSM;object=tls-key", Credential: "1234"},
	})

	var report *ReloadReport
	if !errors.As(err, &report) {
		t.Fatalf("Expected *ReloadReport for token reference, got %v", err)
	}
	cause, ok := report.Failures["pkcs11:token=SoftHSM;object=tls-key"]
	if !ok {
		t.Fatalf("Report doesn't name the token reference: %v", report)
	}
	if cause.Error() != "token-backed keys are not supported" {
		t.Errorf("Unexpected cause for token reference: %v", cause)
	}
}

func TestDecryptWithKeyBadCiphertext(t *testing.T) {
	s := newTestSecrets(t)

	key := generateTestRSAKey(t)
	path := writePKCS1KeyFile(t, key)
	if err := s.ReloadKeys([]KeySource{{Location: path}}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	keyID, _ := KeyIDFromPublicKey(&key.PublicKey)

	// Random bytes are not a valid RSA ciphertext for this key
	junk := make([]byte, 256)
	if _, err := rand.Read(junk); err != nil {
		t.Fatalf("Failed to make junk ciphertext: %v", err)
	}

	if _, err := s.DecryptWithKey(keyID, junk); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for junk ciphertext, got %v", err)
	}

	// An undecryptable blob is traffic noise; the store stays usable
	plaintext := []byte("still works")
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, plaintext)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	got, err := s.DecryptWithKey(keyID, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt after failed attempt errored: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypted %q, want %q", got, plaintext)
	}
}

func TestDecryptWithKeyNotLoaded(t *testing.T) {
	s := newTestSecrets(t)

	var keyID KeyID
	copy(keyID[:], []byte("0123456789abcdefghij"))

	if _, err := s.DecryptWithKey(keyID, []byte("ciphertext")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	s := newTestSecrets(t)

	key := generateTestRSAKey(t)
	path := writePKCS1KeyFile(t, key)
	if err := s.ReloadKeys([]KeySource{{Location: path}}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	keyID, _ := KeyIDFromPublicKey(&key.PublicKey)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := s.ReloadKeys([]KeySource{{Location: path}}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from ReloadKeys, got %v", err)
	}
	if _, err := s.DecryptWithKey(keyID, []byte("ciphertext")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from DecryptWithKey, got %v", err)
	}
	if _, err := s.KeyIDs(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from KeyIDs, got %v", err)
	}

	// Close is idempotent
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestConcurrentDecryptAndReload(t *testing.T) {
	s := newTestSecrets(t)

	key := generateTestRSAKey(t)
	path := writePKCS1KeyFile(t, key)
	if err := s.ReloadKeys([]KeySource{{Location: path}}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	keyID, _ := KeyIDFromPublicKey(&key.PublicKey)

	plaintext := []byte("concurrent secret")
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, plaintext)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	var wg sync.WaitGroup

	// Reload repeatedly while decrypting; a decryptor must observe
	// either the pre-reload or post-reload key set, never a wiped handle.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if err := s.ReloadKeys([]KeySource{{Location: path}}); err != nil {
				t.Errorf("Concurrent reload failed: %v", err)
				return
			}
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				got, err := s.DecryptWithKey(keyID, ciphertext)
				if errors.Is(err, ErrKeyNotFound) {
					// Swap window; the key set is always complete
					continue
				}
				if err != nil {
					t.Errorf("Concurrent decrypt failed: %v", err)
					return
				}
				if string(got) != string(plaintext) {
					t.Errorf("Concurrent decrypt produced %q", got)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestKeyIDs(t *testing.T) {
	s := newTestSecrets(t)

	key1 := generateTestRSAKey(t)
	key2 := generateTestRSAKey(t)
	path1 := writePKCS1KeyFile(t, key1)
	path2 := writePKCS8KeyFile(t, key2)

	if err := s.ReloadKeys([]KeySource{{Location: path1}, {Location: path2}}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	ids, err := s.KeyIDs()
	if err != nil {
		t.Fatalf("KeyIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 key IDs, got %d", len(ids))
	}

	want1, _ := KeyIDFromPublicKey(&key1.PublicKey)
	want2, _ := KeyIDFromPublicKey(&key2.PublicKey)
	found := map[KeyID]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[want1] || !found[want2] {
		t.Errorf("KeyIDs %v missing expected identifiers %s, %s", ids, want1, want2)
	}
}
