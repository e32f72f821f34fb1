package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mhollis/supportgate/internal/model"
)

// AccountStore manages the disposable support accounts that back grants.
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	err := scanner.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Role, &a.Locale, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const accountCols = `id, username, password_hash, role, locale, created_at`

// Create inserts a new support account with a generated unique username and a
// random throwaway password. The password is hashed before storage and never
// returned; the account is only ever entered through a token, not a login form.
func (s *AccountStore) Create(role, locale string) (*model.Account, error) {
	username := "support_" + uuid.NewString()

	password := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, password); err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(base64.StdEncoding.EncodeToString(password)), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO accounts (username, password_hash, role, locale) VALUES (?, ?, ?, ?)`,
		username, string(hash), role, locale,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *AccountStore) GetByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// Delete removes an account. Grant and session rows cascade with it.
// Deleting an already-absent account is not an error.
func (s *AccountStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
