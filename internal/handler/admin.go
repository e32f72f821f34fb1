package handler

import (
	"net/http"

	"github.com/mhollis/supportgate/internal/auth"
)

// Whoami reports the identity behind a redeemed-grant session. It is the
// landing endpoint the dispatcher redirects to after a successful token
// redemption.
func Whoami(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": ac.AccountID,
		"role":       ac.Role,
	})
}
