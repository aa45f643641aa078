// Package auth is the identity gate for an anonymous service: there are no
// registrations or passwords. A request either carries a valid session
// cookie referencing an existing account, or presents a device fingerprint
// and is given a fresh account on the spot — capped at three accounts per
// fingerprint.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipbin/clipbin/internal/database"
	"github.com/clipbin/clipbin/internal/httputil"
	"github.com/google/uuid"
)

// MaxAccountsPerFingerprint caps anonymous account creation per device.
const MaxAccountsPerFingerprint = 3

type contextKey string

const accountIDKey contextKey = "accountID"

type Handler struct {
	db            database.DBTX
	jwtSecret     string
	secureCookies bool
}

func NewHandler(db database.DBTX, jwtSecret string, secureCookies bool) *Handler {
	return &Handler{db: db, jwtSecret: jwtSecret, secureCookies: secureCookies}
}

// Resolve maps the request to an account id. A valid session cookie whose
// account still exists wins; otherwise a fingerprint cookie is required and
// a new account is created under the per-device cap, with a fresh session
// cookie emitted as a side effect.
func (h *Handler) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("session"); err == nil {
			if claims, err := ValidateSessionToken(h.jwtSecret, cookie.Value); err == nil {
				var count int
				err := h.db.QueryRow(r.Context(),
					"SELECT COUNT(*) FROM accounts WHERE id = $1", claims.AccountID,
				).Scan(&count)
				if err == nil && count == 1 {
					ctx := context.WithValue(r.Context(), accountIDKey, claims.AccountID)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			} else {
				slog.Warn("auth: rejected session token", "error", err)
			}
		}

		fingerprint := ""
		if cookie, err := r.Cookie("fingerprint"); err == nil {
			fingerprint = cookie.Value
		}
		if fingerprint == "" {
			httputil.WriteError(w, http.StatusBadRequest, "device fingerprint missing")
			return
		}

		var existing int
		if err := h.db.QueryRow(r.Context(),
			"SELECT COUNT(*) FROM accounts WHERE fingerprint = $1", fingerprint,
		).Scan(&existing); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to check device accounts")
			return
		}
		if existing >= MaxAccountsPerFingerprint {
			httputil.WriteError(w, http.StatusForbidden, "too many accounts from this device, try again later")
			return
		}

		accountID := uuid.NewString()
		if _, err := h.db.Exec(r.Context(),
			"INSERT INTO accounts (id, fingerprint, created_at) VALUES ($1, $2, now())",
			accountID, fingerprint,
		); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to create account")
			return
		}

		token, err := GenerateSessionToken(h.jwtSecret, accountID)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		h.setSessionCookie(w, token)

		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func AccountIDFromContext(ctx context.Context) string {
	accountID, _ := ctx.Value(accountIDKey).(string)
	return accountID
}

// ContextWithAccountID attaches an account identity outside of Resolve.
func ContextWithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionDuration / time.Second),
	})
}
