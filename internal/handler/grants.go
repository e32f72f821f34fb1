package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mhollis/supportgate/internal/grant"
	"github.com/mhollis/supportgate/internal/model"
)

// GrantHandler exposes the grant management API to operators.
type GrantHandler struct {
	manager *grant.Manager
	logger  *slog.Logger
}

func NewGrantHandler(m *grant.Manager, logger *slog.Logger) *GrantHandler {
	return &GrantHandler{manager: m, logger: logger}
}

// grantView is the listing shape: the data an operator needs to hand out,
// monitor, and revoke access.
type grantView struct {
	AccountID   int64      `json:"account_id"`
	Role        string     `json:"role"`
	Locale      string     `json:"locale,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsageCount  int        `json:"usage_count"`
	UsageLimit  int        `json:"usage_limit"`
	Unlimited   bool       `json:"unlimited"`
	LinkExpires *time.Time `json:"link_expires_at,omitempty"`
	AccessURL   string     `json:"access_url"`
}

func (h *GrantHandler) view(g *model.AccessGrant) grantView {
	return grantView{
		AccountID:   g.AccountID,
		Role:        g.Role,
		Locale:      g.Locale,
		CreatedAt:   g.CreatedAt,
		ExpiresAt:   g.ExpiresAt,
		UsageCount:  g.UsageCount,
		UsageLimit:  g.UsageLimit,
		Unlimited:   g.Unlimited(),
		LinkExpires: h.manager.LinkDeadline(g),
		AccessURL:   h.manager.AccessURL(g.Token),
	}
}

func (h *GrantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role             string `json:"role"`
		DurationCount    int    `json:"duration_count"`
		DurationUnit     string `json:"duration_unit"`
		LinkTimeoutHours int    `json:"link_timeout_hours"`
		UsageLimit       int    `json:"usage_limit"`
		Locale           string `json:"locale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role is required"})
		return
	}

	g, accessURL, err := h.manager.CreateGrant(grant.CreateParams{
		Role:             req.Role,
		DurationCount:    req.DurationCount,
		DurationUnit:     grant.Unit(req.DurationUnit),
		LinkTimeoutHours: req.LinkTimeoutHours,
		UsageLimit:       req.UsageLimit,
		Locale:           req.Locale,
	})
	if err != nil {
		h.logger.Warn("create grant", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	v := h.view(g)
	v.AccessURL = accessURL
	writeJSON(w, http.StatusCreated, v)
}

func (h *GrantHandler) List(w http.ResponseWriter, r *http.Request) {
	grants, err := h.manager.ListGrants()
	if err != nil {
		h.logger.Error("list grants", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list grants"})
		return
	}

	views := make([]grantView, 0, len(grants))
	for i := range grants {
		views = append(views, h.view(&grants[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *GrantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	switch err := h.manager.DeleteGrant(id); {
	case errors.Is(err, grant.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "grant not found"})
	case err != nil:
		h.logger.Error("delete grant", "account_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete grant"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (h *GrantHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	accessURL, err := h.manager.RotateToken(id)
	switch {
	case errors.Is(err, grant.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "grant not found"})
	case err != nil:
		h.logger.Error("rotate token", "account_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to rotate token"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"access_url": accessURL})
	}
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
