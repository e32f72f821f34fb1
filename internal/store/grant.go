package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mhollis/supportgate/internal/model"
)

// GrantStore persists access grants. A grant is keyed by its backing
// account's ID; the row cascades away when the account is deleted.
type GrantStore struct {
	db *sql.DB
}

func NewGrantStore(db *sql.DB) *GrantStore {
	return &GrantStore{db: db}
}

func scanGrant(scanner interface{ Scan(...any) error }) (*model.AccessGrant, error) {
	var g model.AccessGrant
	var timeoutSeconds int64
	err := scanner.Scan(
		&g.AccountID, &g.Role, &g.Token, &g.Locale,
		&g.CreatedAt, &g.ExpiresAt, &timeoutSeconds, &g.UsageLimit, &g.UsageCount,
	)
	if err != nil {
		return nil, err
	}
	g.LinkTimeout = time.Duration(timeoutSeconds) * time.Second
	g.CreatedAt = g.CreatedAt.UTC()
	g.ExpiresAt = g.ExpiresAt.UTC()
	return &g, nil
}

const grantCols = `account_id, role, token, locale, created_at, expires_at, link_timeout_seconds, usage_limit, usage_count`

func (s *GrantStore) Create(g *model.AccessGrant) error {
	_, err := s.db.Exec(
		`INSERT INTO grants (`+grantCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.AccountID, g.Role, g.Token, g.Locale,
		g.CreatedAt.UTC(), g.ExpiresAt.UTC(), int64(g.LinkTimeout/time.Second),
		g.UsageLimit, g.UsageCount,
	)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (s *GrantStore) GetByAccountID(accountID int64) (*model.AccessGrant, error) {
	row := s.db.QueryRow(`SELECT `+grantCols+` FROM grants WHERE account_id = ?`, accountID)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return g, nil
}

func (s *GrantStore) List() ([]model.AccessGrant, error) {
	rows, err := s.db.Query(`SELECT ` + grantCols + ` FROM grants ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []model.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

// ListExpired returns the grants whose expiry is strictly before now.
func (s *GrantStore) ListExpired(now time.Time) ([]model.AccessGrant, error) {
	rows, err := s.db.Query(`SELECT `+grantCols+` FROM grants WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired grants: %w", err)
	}
	defer rows.Close()

	var grants []model.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired grant: %w", err)
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

// UpdateToken replaces the stored canonical token for a grant. Only the
// latest token authenticates; the previous one becomes dead on the spot.
func (s *GrantStore) UpdateToken(accountID int64, tok string) (bool, error) {
	result, err := s.db.Exec(`UPDATE grants SET token = ? WHERE account_id = ?`, tok, accountID)
	if err != nil {
		return false, fmt.Errorf("update grant token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ConsumeUse increments the usage counter if the grant is unlimited or still
// under its cap, in one conditional UPDATE. It reports false when the cap was
// already reached, which makes concurrent authentications against a nearly
// exhausted grant settle correctly: only as many win as the cap allows.
func (s *GrantStore) ConsumeUse(accountID int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE grants SET usage_count = usage_count + 1
		 WHERE account_id = ? AND (usage_limit = 0 OR usage_count < usage_limit)`,
		accountID,
	)
	if err != nil {
		return false, fmt.Errorf("consume grant use: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes a grant row directly. Normally grants disappear with their
// account via cascade; this covers grants orphaned by external account
// deletion. Reports whether a row existed.
func (s *GrantStore) Delete(accountID int64) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM grants WHERE account_id = ?`, accountID)
	if err != nil {
		return false, fmt.Errorf("delete grant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
