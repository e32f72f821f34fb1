package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mhollis/supportgate/internal/auth"
	"github.com/mhollis/supportgate/internal/database"
	"github.com/mhollis/supportgate/internal/store"
)

func setupMiddlewareTestDB(t *testing.T) (*store.SessionStore, *store.AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewSessionStore(db), store.NewAccountStore(db)
}

func TestRequireSessionNoCookie(t *testing.T) {
	sessions, _ := setupMiddlewareTestDB(t)

	handler := RequireSession(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without a session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("location = %q, want /", loc)
	}
}

func TestRequireSessionBadToken(t *testing.T) {
	sessions, _ := setupMiddlewareTestDB(t)

	handler := RequireSession(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with an unknown token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "bogus"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
}

func TestRequireSessionValid(t *testing.T) {
	sessions, accounts := setupMiddlewareTestDB(t)

	acct, err := accounts.Create("support", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	sess, err := sessions.Create(acct.ID, acct.Role, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var gotAccount int64
	var gotRole string
	handler := RequireSession(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = auth.AccountID(r.Context())
		gotRole = auth.Role(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.Token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotAccount != acct.ID {
		t.Errorf("account id = %d, want %d", gotAccount, acct.ID)
	}
	if gotRole != "support" {
		t.Errorf("role = %q, want support", gotRole)
	}
}

func TestRequireAdminKey(t *testing.T) {
	var ran bool
	handler := RequireAdminKey("sekrit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/grants", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("no key: status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/grants", nil)
	req.Header.Set(AdminKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key: status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/grants", nil)
	req.Header.Set(AdminKeyHeader, "sekrit")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !ran {
		t.Errorf("correct key: status = %d ran = %v, want 200 true", rec.Code, ran)
	}
}

func TestRequireAdminKeyEmptyConfigured(t *testing.T) {
	// An unset admin key must close the API, not open it.
	handler := RequireAdminKey("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run when no key is configured")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/grants", nil)
	req.Header.Set(AdminKeyHeader, "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
