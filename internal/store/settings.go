package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

const signingSecretKey = "signing_secret"

const signingSecretBytes = 32

// SettingsStore persists process-level key/value settings, most importantly
// the token signing secret.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the value for key, or "" if the key is not set.
func (s *SettingsStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// EnsureSigningSecret returns the persisted token signing secret, generating
// and storing a fresh one on first run. The secret never appears in source or
// configuration files.
func (s *SettingsStore) EnsureSigningSecret() ([]byte, error) {
	stored, err := s.Get(signingSecretKey)
	if err != nil {
		return nil, err
	}
	if stored != "" {
		secret, err := hex.DecodeString(stored)
		if err != nil {
			return nil, fmt.Errorf("stored signing secret corrupt: %w", err)
		}
		return secret, nil
	}

	secret := make([]byte, signingSecretBytes)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	if err := s.Set(signingSecretKey, hex.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}
