package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/mhollis/supportgate/internal/model"
)

// SessionStore persists the authenticated sessions established when a grant
// token is redeemed.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return NewSessionStoreWithClock(db, func() time.Time { return time.Now().UTC() })
}

// NewSessionStoreWithClock is NewSessionStore with an injectable clock, for
// expiry tests.
func NewSessionStoreWithClock(db *sql.DB, now func() time.Time) *SessionStore {
	return &SessionStore{db: db, now: now}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.Session, error) {
	var sess model.Session
	err := scanner.Scan(&sess.ID, &sess.Token, &sess.AccountID, &sess.Role, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return &sess, nil
}

const sessionCols = `id, token, account_id, role, expires_at, created_at`

// Create opens a session for an account. The session never outlives the
// grant: expiresAt is the grant's expiry instant.
func (s *SessionStore) Create(accountID int64, role string, expiresAt time.Time) (*model.Session, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	result, err := s.db.Exec(
		`INSERT INTO sessions (token, account_id, role, expires_at) VALUES (?, ?, ?, ?)`,
		tok, accountID, role, expiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetByToken returns the live session for a token, or nil if the token is
// unknown or the session has expired.
func (s *SessionStore) GetByToken(tok string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionCols+` FROM sessions WHERE token = ? AND expires_at > ?`,
		tok, s.now(),
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByAccountID removes every session belonging to an account, live or
// not, and reports how many were removed. Revoking a grant goes through here
// so its sessions die with it.
func (s *SessionStore) DeleteByAccountID(accountID int64) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for account: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

func (s *SessionStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
