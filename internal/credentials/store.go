// Package credentials caches account passwords outside the config file, the
// way §6's remotepass/remotepassfile/preauthtunnel/interactive sourcing
// rules expect a password to be gathered once and reused for the life of a
// run. The OS keyring is tried first; an AES-GCM encrypted row in the
// credential_cache table (internal/database) is the fallback when no
// keyring is available.
package credentials

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/hkdb/mailsync/internal/crypto"
	"github.com/hkdb/mailsync/internal/logging"
)

const serviceName = "mailsync"

// Store provides account password storage with OS keyring and encrypted
// database fallback.
type Store struct {
	db             *sql.DB
	encryptor      *crypto.Encryptor
	keyringEnabled bool
	log            zerolog.Logger
}

// NewStore creates a Store backed by db (internal/database's credential_cache
// table). It probes the OS keyring once at construction and uses the
// encrypted database fallback for the rest of the process's life if the
// probe fails.
func NewStore(db *sql.DB) *Store {
	log := logging.WithComponent("credentials")

	keyringEnabled := testKeyring()
	if keyringEnabled {
		log.Info().Msg("OS keyring available, using as primary credential storage")
	} else {
		log.Warn().Msg("OS keyring not available, using encrypted database storage")
	}

	return &Store{
		db:             db,
		encryptor:      crypto.NewEncryptor(),
		keyringEnabled: keyringEnabled,
		log:            log,
	}
}

// testKeyring checks if the OS keyring is available and functional.
func testKeyring() bool {
	const testKey = "mailsync-test-keyring-check"

	if err := gokeyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	gokeyring.Delete(serviceName, testKey)
	return true
}

// SetPassword caches password for account, in the OS keyring if available,
// otherwise in the encrypted database fallback. An empty password is a
// no-op: nothing to cache.
func (s *Store) SetPassword(account, password string) error {
	if password == "" {
		return nil
	}

	if s.keyringEnabled {
		if err := gokeyring.Set(serviceName, account, password); err == nil {
			s.log.Debug().Str("account", account).Msg("password stored in OS keyring")
			s.clearDBPassword(account)
			return nil
		} else {
			s.log.Warn().Err(err).Msg("failed to store in OS keyring, using fallback")
		}
	}

	ciphertext, nonce, salt, err := s.encryptor.Encrypt(password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO credential_cache (account, ciphertext, nonce, salt, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(account) DO UPDATE SET
		   ciphertext = excluded.ciphertext,
		   nonce = excluded.nonce,
		   salt = excluded.salt,
		   updated_at = excluded.updated_at`,
		account, ciphertext, nonce, salt,
	)
	if err != nil {
		return fmt.Errorf("failed to store encrypted password: %w", err)
	}

	s.log.Debug().Str("account", account).Msg("password stored in encrypted database")
	return nil
}

// GetPassword retrieves the cached password for account, or
// ErrCredentialNotFound if nothing is cached.
func (s *Store) GetPassword(account string) (string, error) {
	if s.keyringEnabled {
		password, err := gokeyring.Get(serviceName, account)
		if err == nil {
			return password, nil
		}
		if err != gokeyring.ErrNotFound {
			s.log.Warn().Err(err).Msg("error reading from OS keyring, trying fallback")
		}
	}

	var ciphertext, nonce, salt []byte
	err := s.db.QueryRow(
		`SELECT ciphertext, nonce, salt FROM credential_cache WHERE account = ?`,
		account,
	).Scan(&ciphertext, &nonce, &salt)

	if err == sql.ErrNoRows {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query password: %w", err)
	}

	password, err := s.encryptor.Decrypt(ciphertext, nonce, salt)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}

	return password, nil
}

// DeletePassword removes any cached password for account, from both the OS
// keyring and the encrypted database fallback.
func (s *Store) DeletePassword(account string) error {
	if s.keyringEnabled {
		gokeyring.Delete(serviceName, account)
	}
	s.clearDBPassword(account)
	return nil
}

func (s *Store) clearDBPassword(account string) {
	s.db.Exec(`DELETE FROM credential_cache WHERE account = ?`, account)
}

// IsKeyringEnabled reports whether the OS keyring is being used as the
// primary store.
func (s *Store) IsKeyringEnabled() bool {
	return s.keyringEnabled
}
