package credentials

import (
	"path/filepath"
	"testing"

	"github.com/hkdb/mailsync/internal/database"
)

// These tests run with the OS keyring unavailable (no keyring daemon in a
// test sandbox), exercising the encrypted database fallback path.

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	s := NewStore(db.DB)
	s.keyringEnabled = false
	return s
}

func TestSetGetPasswordRoundTripsThroughEncryptedFallback(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetPassword("work", "hunter2"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	got, err := s.GetPassword("work")
	if err != nil {
		t.Fatalf("GetPassword: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("GetPassword = %q, want %q", got, "hunter2")
	}
}

func TestGetPasswordNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetPassword("missing"); err != ErrCredentialNotFound {
		t.Errorf("GetPassword error = %v, want ErrCredentialNotFound", err)
	}
}

func TestDeletePasswordRemovesCachedValue(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetPassword("work", "hunter2"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if err := s.DeletePassword("work"); err != nil {
		t.Fatalf("DeletePassword: %v", err)
	}
	if _, err := s.GetPassword("work"); err != ErrCredentialNotFound {
		t.Errorf("GetPassword after delete = %v, want ErrCredentialNotFound", err)
	}
}

func TestSetPasswordOverwritesExistingCacheEntry(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetPassword("work", "first"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if err := s.SetPassword("work", "second"); err != nil {
		t.Fatalf("SetPassword (overwrite): %v", err)
	}

	got, err := s.GetPassword("work")
	if err != nil {
		t.Fatalf("GetPassword: %v", err)
	}
	if got != "second" {
		t.Errorf("GetPassword = %q, want %q", got, "second")
	}
}
