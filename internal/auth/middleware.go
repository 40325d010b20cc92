// ABOUTME: Session middleware that resolves the session cookie to a user
// ABOUTME: Refreshes sliding expiry on every request and re-issues the cookie

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/larder/internal/metrics"
	"github.com/2389/larder/internal/store"
)

// DefaultCookieName is the session cookie name.
const DefaultCookieName = "session"

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	MaxAge time.Duration // should equal the session window
	Secure bool          // set when the public origin is https
}

// Middleware authenticates requests from the session cookie.
type Middleware struct {
	sessions store.SessionStore
	users    store.CredentialStore
	cookie   CookieConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewMiddleware creates session middleware. m and logger may be nil.
func NewMiddleware(sessions store.SessionStore, users store.CredentialStore, cookie CookieConfig, m *metrics.Metrics, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = store.DefaultSessionWindow
	}
	return &Middleware{
		sessions: sessions,
		users:    users,
		cookie:   cookie,
		metrics:  m,
		logger:   logger.With("component", "auth"),
	}
}

// Authenticate resolves the request's session. On success the session is
// refreshed and the cookie re-issued; if the session is missing, expired or
// its user has vanished the cookie is cleared and ErrUnauthorized returned.
func (m *Middleware) Authenticate(w http.ResponseWriter, r *http.Request) (*Identity, error) {
	c, err := r.Cookie(m.cookie.Name)
	if err != nil || c.Value == "" {
		m.metrics.SessionRejected("missing")
		return nil, ErrUnauthorized
	}

	sess, err := m.sessions.Refresh(r.Context(), c.Value)
	if errors.Is(err, store.ErrNotFound) {
		m.metrics.SessionRejected("expired")
		m.ClearCookie(w)
		return nil, ErrUnauthorized
	}
	if err != nil {
		m.logger.Error("failed to refresh session", "error", err)
		return nil, ErrInternal
	}

	user, err := m.users.GetUser(r.Context(), sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		m.metrics.SessionRejected("user_missing")
		m.ClearCookie(w)
		return nil, ErrUnauthorized
	}
	if err != nil {
		m.logger.Error("failed to load session user", "error", err)
		return nil, ErrInternal
	}

	m.SetCookie(w, sess)
	return &Identity{User: user, Session: sess}, nil
}

// RequireSession rejects unauthenticated requests with 401 and otherwise
// attaches the Identity to the request context.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.Authenticate(w, r)
		if errors.Is(err, ErrUnauthorized) {
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err != nil {
			writeJSONError(w, "internal error", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// SetCookie writes the session cookie with the sliding max-age.
func (m *Middleware) SetCookie(w http.ResponseWriter, sess *store.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie.Name,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(m.cookie.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie in the browser.
func (m *Middleware) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionID returns the raw session cookie value, if any.
func (m *Middleware) SessionID(r *http.Request) string {
	c, err := r.Cookie(m.cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
