// Package grant implements the lifecycle of temporary support-access grants:
// minting, redemption, rotation, and reaping.
package grant

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mhollis/supportgate/internal/model"
	"github.com/mhollis/supportgate/internal/roles"
	"github.com/mhollis/supportgate/internal/store"
	"github.com/mhollis/supportgate/internal/token"
	"github.com/mhollis/supportgate/internal/websocket"
)

// Reason identifies why an authentication attempt was rejected. Externally
// every rejection looks the same (redirect home); the reason exists for
// logging and tests.
type Reason string

const (
	ReasonInvalidToken Reason = "invalid_token"
	ReasonExpired      Reason = "expired"
	ReasonLimitReached Reason = "limit_reached"
	ReasonLinkExpired  Reason = "link_expired"
)

// RejectionError is an expected authentication outcome, distinct from
// infrastructure failures: a rejected request degrades to unauthenticated,
// while a storage error must surface as such.
type RejectionError struct {
	Reason Reason
}

func (e *RejectionError) Error() string {
	return "access rejected: " + string(e.Reason)
}

func reject(reason Reason) error {
	return &RejectionError{Reason: reason}
}

// ErrNotFound is returned by administrative operations targeting a grant
// that does not exist.
var ErrNotFound = errors.New("grant not found")

// Unit is a grant duration unit.
type Unit string

const (
	UnitHours  Unit = "hours"
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
)

// Config carries the manager's settings. Defaults are applied and validated
// in New; there is no ambient configuration.
type Config struct {
	// BaseURL is the externally reachable URL access links point at.
	BaseURL string

	// TokenParam is the query parameter carrying the token. Defaults to
	// "support_access".
	TokenParam string
}

const defaultTokenParam = "support_access"

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("base URL invalid: %w", err)
	}
	if c.TokenParam == "" {
		c.TokenParam = defaultTokenParam
	}
	return nil
}

// CreateParams are the inputs to CreateGrant.
type CreateParams struct {
	Role             string
	DurationCount    int
	DurationUnit     Unit
	LinkTimeoutHours int // 0 means no link timeout
	UsageLimit       int // 0 means unlimited
	Locale           string
}

// Manager owns grant lifecycle state transitions. One instance is constructed
// at process start and handed to the HTTP layer and the reap scheduler.
type Manager struct {
	cfg      Config
	grants   *store.GrantStore
	accounts *store.AccountStore
	sessions *store.SessionStore
	codec    *token.Codec
	registry *roles.Registry
	hub      *websocket.Hub
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Manager. The hub may be nil when no event listeners exist.
func New(cfg Config, grants *store.GrantStore, accounts *store.AccountStore, sessions *store.SessionStore, codec *token.Codec, registry *roles.Registry, hub *websocket.Hub, logger *slog.Logger) (*Manager, error) {
	return NewWithClock(cfg, grants, accounts, sessions, codec, registry, hub, logger, func() time.Time { return time.Now().UTC() })
}

// NewWithClock is New with an injectable clock, for expiry tests.
func NewWithClock(cfg Config, grants *store.GrantStore, accounts *store.AccountStore, sessions *store.SessionStore, codec *token.Codec, registry *roles.Registry, hub *websocket.Hub, logger *slog.Logger, now func() time.Time) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("grant manager config: %w", err)
	}
	if now == nil {
		return nil, fmt.Errorf("grant manager: nil clock")
	}
	return &Manager{
		cfg:      cfg,
		grants:   grants,
		accounts: accounts,
		sessions: sessions,
		codec:    codec,
		registry: registry,
		hub:      hub,
		logger:   logger,
		now:      now,
	}, nil
}

// CreateGrant mints a new grant: a disposable backing account, an expiry, a
// signed token, and the access URL embedding it.
func (m *Manager) CreateGrant(p CreateParams) (*model.AccessGrant, string, error) {
	if p.DurationCount < 1 {
		return nil, "", fmt.Errorf("duration count must be at least 1, got %d", p.DurationCount)
	}
	if p.UsageLimit < 0 {
		return nil, "", fmt.Errorf("usage limit must not be negative, got %d", p.UsageLimit)
	}
	if p.LinkTimeoutHours < 0 {
		return nil, "", fmt.Errorf("link timeout must not be negative, got %d", p.LinkTimeoutHours)
	}
	if _, ok := m.registry.Lookup(p.Role); !ok {
		return nil, "", fmt.Errorf("unrecognized role %q (known: %s)", p.Role, strings.Join(m.registry.Names(), ", "))
	}

	acct, err := m.accounts.Create(p.Role, p.Locale)
	if err != nil {
		return nil, "", fmt.Errorf("create backing account: %w", err)
	}

	now := m.now()
	nonce, err := token.NewNonce()
	if err != nil {
		m.cleanupAccount(acct.ID)
		return nil, "", err
	}
	tok := m.codec.Encode(acct.ID, now, nonce)

	g := &model.AccessGrant{
		AccountID:   acct.ID,
		Role:        p.Role,
		Token:       tok,
		Locale:      p.Locale,
		CreatedAt:   now,
		ExpiresAt:   expiryFor(now, p.DurationCount, p.DurationUnit),
		LinkTimeout: time.Duration(p.LinkTimeoutHours) * time.Hour,
		UsageLimit:  p.UsageLimit,
		UsageCount:  0,
	}
	if err := m.grants.Create(g); err != nil {
		m.cleanupAccount(acct.ID)
		return nil, "", err
	}

	m.broadcast("created", g.AccountID, nil)
	return g, m.AccessURL(tok), nil
}

// Authenticate redeems a raw token. It returns a session on success, a
// *RejectionError for every expected refusal, and a plain error only when
// storage itself fails. The check order is deliberate: an expired grant is
// deleted on touch, so expiry must be decided before the usage and link
// checks ever run.
func (m *Manager) Authenticate(raw string) (*model.Session, error) {
	payload, err := m.codec.Decode(raw)
	if err != nil {
		return nil, reject(ReasonInvalidToken)
	}

	g, err := m.grants.GetByAccountID(payload.GrantID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, reject(ReasonInvalidToken)
	}

	// Only the latest minted token for a grant is stored; an older token
	// with a valid signature dies here. This is what makes rotation an
	// effective kill switch.
	if subtle.ConstantTimeCompare([]byte(g.Token), []byte(raw)) != 1 {
		return nil, reject(ReasonInvalidToken)
	}

	now := m.now()
	if g.ExpiredAt(now) {
		if err := m.removeGrant(g.AccountID); err != nil {
			m.logger.Error("delete expired grant on touch", "account_id", g.AccountID, "error", err)
		} else {
			m.broadcast("reaped", g.AccountID, nil)
		}
		return nil, reject(ReasonExpired)
	}

	if g.Exhausted() {
		return nil, reject(ReasonLimitReached)
	}

	if g.LinkTimeout > 0 && now.After(payload.Issued().Add(g.LinkTimeout)) {
		return nil, reject(ReasonLinkExpired)
	}

	// The conditional increment settles races: of N concurrent requests
	// against a grant with one use left, exactly one lands here first.
	consumed, err := m.grants.ConsumeUse(g.AccountID)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, reject(ReasonLimitReached)
	}

	sess, err := m.sessions.Create(g.AccountID, g.Role, g.ExpiresAt)
	if err != nil {
		return nil, err
	}

	m.broadcast("authenticated", g.AccountID, map[string]any{"usage_count": g.UsageCount + 1})
	return sess, nil
}

// RotateToken mints a fresh token for an existing grant and returns the new
// access URL. The previous token stops authenticating immediately, and the
// link-timeout window restarts from now; the grant's expiry is untouched.
func (m *Manager) RotateToken(accountID int64) (string, error) {
	g, err := m.grants.GetByAccountID(accountID)
	if err != nil {
		return "", err
	}
	if g == nil {
		return "", ErrNotFound
	}

	nonce, err := token.NewNonce()
	if err != nil {
		return "", err
	}
	tok := m.codec.Encode(accountID, m.now(), nonce)

	ok, err := m.grants.UpdateToken(accountID, tok)
	if err != nil {
		return "", err
	}
	if !ok {
		// Reaped between the read and the update.
		return "", ErrNotFound
	}

	m.broadcast("rotated", accountID, nil)
	return m.AccessURL(tok), nil
}

// DeleteGrant removes a grant and its backing account on administrative
// request, regardless of expiry.
func (m *Manager) DeleteGrant(accountID int64) error {
	g, err := m.grants.GetByAccountID(accountID)
	if err != nil {
		return err
	}
	if g == nil {
		return ErrNotFound
	}
	if err := m.removeGrant(accountID); err != nil {
		return err
	}
	m.broadcast("deleted", accountID, nil)
	return nil
}

// ReapExpired deletes every grant past its expiry together with its backing
// account. A failure on one grant is logged and does not stop the sweep; the
// return value counts the grants actually removed.
func (m *Manager) ReapExpired() (int, error) {
	expired, err := m.grants.ListExpired(m.now())
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, g := range expired {
		if err := m.removeGrant(g.AccountID); err != nil {
			m.logger.Error("reap grant", "account_id", g.AccountID, "error", err)
			continue
		}
		m.broadcast("reaped", g.AccountID, nil)
		deleted++
	}
	return deleted, nil
}

// ListGrants returns all grants, newest first, exhausted ones included.
func (m *Manager) ListGrants() ([]model.AccessGrant, error) {
	return m.grants.List()
}

// AccessURL builds the bearer URL for a token.
func (m *Manager) AccessURL(tok string) string {
	u, err := url.Parse(m.cfg.BaseURL)
	if err != nil {
		// Config was validated at construction; a parse failure here means
		// the config was mutated, which New does not allow.
		return ""
	}
	q := u.Query()
	q.Set(m.cfg.TokenParam, tok)
	u.RawQuery = q.Encode()
	return u.String()
}

// LinkDeadline returns the instant the grant's current access link stops
// authenticating, or nil when the grant has no link timeout. The window is
// anchored to the stored token's issue time, which rotation resets; the
// grant's creation time is the wrong anchor once a rotation has happened.
func (m *Manager) LinkDeadline(g *model.AccessGrant) *time.Time {
	if g.LinkTimeout <= 0 {
		return nil
	}
	payload, err := m.codec.Decode(g.Token)
	if err != nil {
		return nil
	}
	deadline := payload.Issued().Add(g.LinkTimeout)
	return &deadline
}

// TokenParam returns the query parameter name access URLs use.
func (m *Manager) TokenParam() string {
	return m.cfg.TokenParam
}

// removeGrant deletes a grant's sessions, its backing account, and the grant
// row itself. Sessions are deleted explicitly rather than left to the schema's
// cascade: a revoked grant must stop authenticating immediately. The direct
// grant delete afterwards covers grants whose account was already removed
// externally.
func (m *Manager) removeGrant(accountID int64) error {
	if _, err := m.sessions.DeleteByAccountID(accountID); err != nil {
		return err
	}
	if err := m.accounts.Delete(accountID); err != nil {
		return err
	}
	if _, err := m.grants.Delete(accountID); err != nil {
		return err
	}
	return nil
}

func (m *Manager) cleanupAccount(accountID int64) {
	if err := m.accounts.Delete(accountID); err != nil {
		m.logger.Error("cleanup account after failed grant creation", "account_id", accountID, "error", err)
	}
}

func (m *Manager) broadcast(action string, accountID int64, extra map[string]any) {
	if m.hub == nil {
		return
	}
	m.hub.Broadcast(websocket.NewMessage("grant", action, accountID, extra))
}

// expiryFor computes a grant's expiry. Hours and days and weeks are exact;
// months use calendar arithmetic. An unrecognized unit falls back to one week
// rather than failing, a lenient policy kept for compatibility with existing
// callers.
func expiryFor(now time.Time, count int, unit Unit) time.Time {
	switch unit {
	case UnitHours:
		return now.Add(time.Duration(count) * time.Hour)
	case UnitDays:
		return now.AddDate(0, 0, count)
	case UnitWeeks:
		return now.AddDate(0, 0, 7*count)
	case UnitMonths:
		return now.AddDate(0, count, 0)
	default:
		return now.AddDate(0, 0, 7)
	}
}
