package handler

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/mhollis/supportgate/internal/database"
	"github.com/mhollis/supportgate/internal/grant"
	"github.com/mhollis/supportgate/internal/middleware"
	"github.com/mhollis/supportgate/internal/roles"
	"github.com/mhollis/supportgate/internal/store"
	"github.com/mhollis/supportgate/internal/token"
)

func setupAccessHandler(t *testing.T) (*AccessHandler, *grant.Manager) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	secret, err := store.NewSettingsStore(db).EnsureSigningSecret()
	if err != nil {
		t.Fatalf("ensure secret: %v", err)
	}
	codec, err := token.NewCodec(secret)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	m, err := grant.New(
		grant.Config{BaseURL: "https://site.example"},
		store.NewGrantStore(db), store.NewAccountStore(db), store.NewSessionStore(db),
		codec, roles.Default(), nil, slog.Default(),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return NewAccessHandler(m, slog.Default()), m
}

func TestDispatchNoToken(t *testing.T) {
	h, _ := setupAccessHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestDispatchBadToken(t *testing.T) {
	h, _ := setupAccessHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/?support_access=garbage", nil)
	rec := httptest.NewRecorder()
	h.Dispatch(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("location = %q, want /", loc)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("rejected request must not set a cookie")
	}
}

func TestDispatchValidToken(t *testing.T) {
	h, m := setupAccessHandler(t)

	_, accessURL, err := m.CreateGrant(grant.CreateParams{
		Role: "support", DurationCount: 1, DurationUnit: grant.UnitDays,
	})
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}
	u, err := url.Parse(accessURL)
	if err != nil {
		t.Fatalf("parse access url: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?"+u.RawQuery, nil)
	rec := httptest.NewRecorder()
	h.Dispatch(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/admin" {
		t.Errorf("location = %q, want /admin", loc)
	}

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("no session cookie set")
	}
	if sessionCookie.Value == "" || !sessionCookie.HttpOnly {
		t.Errorf("cookie = %+v, want non-empty HttpOnly", sessionCookie)
	}
}

func TestDispatchExhaustedGrant(t *testing.T) {
	h, m := setupAccessHandler(t)

	_, accessURL, err := m.CreateGrant(grant.CreateParams{
		Role: "support", DurationCount: 1, DurationUnit: grant.UnitDays, UsageLimit: 1,
	})
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}
	u, _ := url.Parse(accessURL)

	// First redemption wins, second hits the usage limit.
	for i, want := range []string{"/admin", "/"} {
		req := httptest.NewRequest(http.MethodGet, "/?"+u.RawQuery, nil)
		rec := httptest.NewRecorder()
		h.Dispatch(rec, req)

		if rec.Code != http.StatusSeeOther {
			t.Fatalf("attempt %d: status = %d, want 303", i+1, rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != want {
			t.Errorf("attempt %d: location = %q, want %q", i+1, loc, want)
		}
	}
}
