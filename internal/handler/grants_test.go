package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mhollis/supportgate/internal/database"
	"github.com/mhollis/supportgate/internal/grant"
	"github.com/mhollis/supportgate/internal/roles"
	"github.com/mhollis/supportgate/internal/store"
	"github.com/mhollis/supportgate/internal/token"
)

func setupGrantHandler(t *testing.T) *GrantHandler {
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
	return NewGrantHandler(m, slog.Default())
}

func createGrantViaAPI(t *testing.T, h *GrantHandler, body string) grantView {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/grants", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var v grantView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	return v
}

func TestGrantCreateAPI(t *testing.T) {
	h := setupGrantHandler(t)

	v := createGrantViaAPI(t, h, `{"role":"administrator","duration_count":1,"duration_unit":"days","usage_limit":3,"link_timeout_hours":2}`)

	if v.Role != "administrator" {
		t.Errorf("role = %q, want administrator", v.Role)
	}
	if v.UsageLimit != 3 || v.Unlimited {
		t.Errorf("usage limit = %d unlimited = %v, want 3 false", v.UsageLimit, v.Unlimited)
	}
	if !strings.Contains(v.AccessURL, "support_access=") {
		t.Errorf("access url %q missing token parameter", v.AccessURL)
	}
	if v.LinkExpires == nil {
		t.Error("expected link_expires_at for a grant with a link timeout")
	} else if !v.LinkExpires.After(v.CreatedAt) {
		t.Errorf("link deadline %v not after creation %v", v.LinkExpires, v.CreatedAt)
	}
}

func TestGrantCreateAPIValidation(t *testing.T) {
	h := setupGrantHandler(t)

	cases := map[string]string{
		"not json":     `{`,
		"missing role": `{"duration_count":1,"duration_unit":"days"}`,
		"unknown role": `{"role":"overlord","duration_count":1,"duration_unit":"days"}`,
		"bad duration": `{"role":"support","duration_count":0,"duration_unit":"days"}`,
	}
	for name, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/grants", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Create(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestGrantListAPI(t *testing.T) {
	h := setupGrantHandler(t)

	createGrantViaAPI(t, h, `{"role":"support","duration_count":1,"duration_unit":"days"}`)
	createGrantViaAPI(t, h, `{"role":"support","duration_count":2,"duration_unit":"weeks"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/grants", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var views []grantView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("listed %d grants, want 2", len(views))
	}
	for _, v := range views {
		if !v.Unlimited {
			t.Errorf("grant %d: unlimited = false, want true for limit 0", v.AccountID)
		}
	}
}

func TestGrantDeleteAPI(t *testing.T) {
	h := setupGrantHandler(t)

	v := createGrantViaAPI(t, h, `{"role":"support","duration_count":1,"duration_unit":"days"}`)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/grants/%d", v.AccountID), nil)
	req.SetPathValue("id", fmt.Sprintf("%d", v.AccountID))
	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestGrantRotateAPI(t *testing.T) {
	h := setupGrantHandler(t)

	v := createGrantViaAPI(t, h, `{"role":"support","duration_count":1,"duration_unit":"days"}`)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/grants/%d/rotate", v.AccountID), nil)
	req.SetPathValue("id", fmt.Sprintf("%d", v.AccountID))
	rec := httptest.NewRecorder()
	h.Rotate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("rotate status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal rotate: %v", err)
	}
	if resp["access_url"] == v.AccessURL {
		t.Error("rotate returned the same access URL")
	}
	if !strings.Contains(resp["access_url"], "support_access=") {
		t.Errorf("rotated url %q missing token parameter", resp["access_url"])
	}
}

func TestGrantRotateUnknown(t *testing.T) {
	h := setupGrantHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/grants/999/rotate", nil)
	req.SetPathValue("id", "999")
	rec := httptest.NewRecorder()
	h.Rotate(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
