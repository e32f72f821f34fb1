package model

import "time"

// AccessGrant is the persisted state of a single temporary credential. It is
// keyed by the backing account's ID; exactly one grant exists per account.
type AccessGrant struct {
	AccountID   int64         `json:"account_id"`
	Role        string        `json:"role"`
	Token       string        `json:"-"`
	Locale      string        `json:"locale,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	LinkTimeout time.Duration `json:"link_timeout"`
	UsageLimit  int           `json:"usage_limit"`
	UsageCount  int           `json:"usage_count"`
}

// Unlimited reports whether the grant has no usage cap.
func (g *AccessGrant) Unlimited() bool {
	return g.UsageLimit == 0
}

// Exhausted reports whether the grant's usage cap has been reached.
// An exhausted grant stays listed until it expires; it just cannot
// authenticate anymore.
func (g *AccessGrant) Exhausted() bool {
	return g.UsageLimit > 0 && g.UsageCount >= g.UsageLimit
}

// ExpiredAt reports whether the grant is past its expiry at the given instant.
func (g *AccessGrant) ExpiredAt(now time.Time) bool {
	return now.After(g.ExpiresAt)
}
