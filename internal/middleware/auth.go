package middleware

import (
	"net/http"

	"github.com/mhollis/supportgate/internal/auth"
	"github.com/mhollis/supportgate/internal/store"
)

// SessionCookieName is the cookie carrying a redeemed-grant session token.
const SessionCookieName = "supportgate_session"

// RequireSession validates the session cookie and populates AuthContext.
// Requests without a live session are sent back to the landing page; the
// session store already filters out expired sessions.
func RequireSession(sessions *store.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}

			sess, err := sessions.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}

			ac := auth.AuthContext{
				AccountID: sess.AccountID,
				Role:      sess.Role,
				SessionID: sess.ID,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
