package database

// Migration represents a database migration.
type Migration struct {
	Version int
	SQL     string
}

// migrations is the list of all database migrations. mailsync's database
// backs exactly one concern — the optional encrypted credential cache
// (internal/credentials) used when the OS keyring is unavailable — so this
// stays a single migration rather than a multi-table schema.
var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			-- One row per account whose password has been cached
			-- outside the OS keyring. ciphertext holds the AES-GCM
			-- output and nonce its GCM nonce; salt is the PBKDF2 salt
			-- needed to derive the same key again on next read.
			CREATE TABLE credential_cache (
				account      TEXT PRIMARY KEY,
				ciphertext   BLOB NOT NULL,
				nonce        BLOB NOT NULL,
				salt         BLOB NOT NULL,
				updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}
