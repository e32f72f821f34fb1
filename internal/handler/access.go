package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/mhollis/supportgate/internal/grant"
	"github.com/mhollis/supportgate/internal/middleware"
)

// AccessHandler is the dispatcher for inbound requests carrying an access
// token. Every rejection looks the same from outside: back to the landing
// page. Reasons go to the log only.
type AccessHandler struct {
	manager *grant.Manager
	logger  *slog.Logger
}

func NewAccessHandler(m *grant.Manager, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{manager: m, logger: logger}
}

// Dispatch redeems the token in the query string. Success establishes a
// session cookie and redirects into the admin area; a request without a
// token parameter just lands on the public page.
func (h *AccessHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get(h.manager.TokenParam())
	if raw == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("supportgate\n"))
		return
	}

	sess, err := h.manager.Authenticate(raw)
	if err != nil {
		var rej *grant.RejectionError
		if errors.As(err, &rej) {
			h.logger.Info("access rejected", "reason", rej.Reason, "remote", middleware.RealIP(r))
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		h.logger.Error("authenticate", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	h.logger.Info("access granted", "account_id", sess.AccountID, "role", sess.Role)
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}
