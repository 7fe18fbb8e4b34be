// Package keystore keeps the assistant's secure preferences (the API key and
// the wake word toggle) encrypted at rest in the local database.
package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"voiceai/internal/domain"
	"voiceai/internal/infra/sqlite"
)

var (
	ErrWrongPassphrase = errors.New("wrong keystore passphrase")
	ErrNoPassphrase    = errors.New("keystore passphrase is empty")
)

const (
	prefAPIKey          = "api_key"
	prefWakeWordEnabled = "wake_word_enabled"
)

var migrations = []sqlite.Migration{
	{
		Version:     1,
		Description: "create keystore tables",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS keystore_meta (
					id                INTEGER PRIMARY KEY CHECK (id = 1),
					salt              BLOB    NOT NULL,
					verification_blob BLOB    NOT NULL,
					created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE TABLE IF NOT EXISTS secure_prefs (
					name       TEXT PRIMARY KEY,
					value      BLOB NOT NULL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`)
			return err
		},
	},
}

// Store is the encrypted preference store. It is safe for concurrent use.
type Store struct {
	db     *sqlite.DB
	logger *slog.Logger

	mu  sync.RWMutex
	key []byte
}

// Open unlocks the store with passphrase, initializing it on first use.
func Open(ctx context.Context, db *sqlite.DB, passphrase string, logger *slog.Logger) (*Store, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	if err := db.Migrate(ctx, "keystore", migrations); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	var salt, blob []byte
	err := db.QueryRowContext(ctx,
		"SELECT salt, verification_blob FROM keystore_meta WHERE id = 1",
	).Scan(&salt, &blob)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		key, err := firstRun(ctx, db, passphrase)
		if err != nil {
			return nil, err
		}
		logger.Info("keystore initialized", "path", db.Path())
		return &Store{db: db, logger: logger, key: key}, nil
	case err != nil:
		return nil, fmt.Errorf("%w: reading keystore metadata: %w", domain.ErrStorage, err)
	}

	key := deriveKey(passphrase, salt)
	if !verifyKey(key, blob) {
		zero(key)
		return nil, ErrWrongPassphrase
	}

	logger.Debug("keystore unlocked", "path", db.Path())
	return &Store{db: db, logger: logger, key: key}, nil
}

func firstRun(ctx context.Context, db *sqlite.DB, passphrase string) ([]byte, error) {
	salt, err := generateSalt()
	if err != nil {
		return nil, err
	}

	key := deriveKey(passphrase, salt)
	blob, err := verificationBlob(key)
	if err != nil {
		zero(key)
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO keystore_meta (id, salt, verification_blob) VALUES (1, ?, ?)",
		salt, blob,
	)
	if err != nil {
		zero(key)
		return nil, fmt.Errorf("%w: writing keystore metadata: %w", domain.ErrStorage, err)
	}
	return key, nil
}

// Close wipes the key from memory. The database stays open.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero(s.key)
	s.key = nil
}

// APIKey returns the stored API key. ok is false when none has been set.
func (s *Store) APIKey(ctx context.Context) (string, bool, error) {
	value, ok, err := s.get(ctx, prefAPIKey)
	if err != nil || !ok || value == "" {
		return "", false, err
	}
	return value, true, nil
}

// SetAPIKey stores key. An empty key removes the stored one.
func (s *Store) SetAPIKey(ctx context.Context, key string) error {
	if key == "" {
		return s.remove(ctx, prefAPIKey)
	}
	return s.set(ctx, prefAPIKey, key)
}

// WakeWordEnabled reports the persisted toggle; it defaults to false.
func (s *Store) WakeWordEnabled(ctx context.Context) (bool, error) {
	value, ok, err := s.get(ctx, prefWakeWordEnabled)
	if err != nil || !ok {
		return false, err
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: malformed %s value: %w", domain.ErrStorage, prefWakeWordEnabled, err)
	}
	return enabled, nil
}

func (s *Store) SetWakeWordEnabled(ctx context.Context, enabled bool) error {
	return s.set(ctx, prefWakeWordEnabled, strconv.FormatBool(enabled))
}

func (s *Store) get(ctx context.Context, name string) (string, bool, error) {
	key, err := s.currentKey()
	if err != nil {
		return "", false, err
	}

	var sealed []byte
	err = s.db.QueryRowContext(ctx, "SELECT value FROM secure_prefs WHERE name = ?", name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: reading %s: %w", domain.ErrStorage, name, err)
	}

	plain, err := open(key, sealed, []byte(name))
	if err != nil {
		return "", false, fmt.Errorf("%w: decrypting %s: %w", domain.ErrStorage, name, err)
	}
	return string(plain), true, nil
}

func (s *Store) set(ctx context.Context, name, value string) error {
	key, err := s.currentKey()
	if err != nil {
		return err
	}

	sealed, err := seal(key, []byte(value), []byte(name))
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", name, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO secure_prefs (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, sealed,
	)
	if err != nil {
		return fmt.Errorf("%w: writing %s: %w", domain.ErrStorage, name, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM secure_prefs WHERE name = ?", name); err != nil {
		return fmt.Errorf("%w: removing %s: %w", domain.ErrStorage, name, err)
	}
	return nil
}

func (s *Store) currentKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, errors.New("keystore is closed")
	}
	return s.key, nil
}
