package database

import (
	"path/filepath"
	"testing"
)

func TestOpenMigrateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailsync-creds.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Re-running must be a no-op, not an error (CREATE TABLE would fail
	// the second time if the version guard didn't work).
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate (second run): %v", err)
	}

	if _, err := db.Exec(
		`INSERT INTO credential_cache (account, ciphertext, nonce, salt) VALUES (?, ?, ?, ?)`,
		"work", []byte("cipher"), []byte("nonce"), []byte("salt"),
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var ciphertext []byte
	if err := db.QueryRow(`SELECT ciphertext FROM credential_cache WHERE account = ?`, "work").Scan(&ciphertext); err != nil {
		t.Fatalf("select: %v", err)
	}
	if string(ciphertext) != "cipher" {
		t.Errorf("ciphertext = %q, want %q", ciphertext, "cipher")
	}
}
