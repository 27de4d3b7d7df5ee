package api

import (
	"context"
	"net/http"
	"time"

	"imagetovideo/internal/auth"
)

type contextKey string

const emailKey contextKey = "email"

// SessionCookieName holds the magic-link token once it has been verified.
const SessionCookieName = "__session"

type AuthMiddleware struct {
	tokens       *auth.TokenService
	secureCookie bool
}

func NewAuthMiddleware(tokens *auth.TokenService, secureCookie bool) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, secureCookie: secureCookie}
}

// LoadSession puts the session email in the context when the cookie holds
// a valid token. Requests without one pass through anonymously; a cookie
// that fails verification is cleared first.
func (m *AuthMiddleware) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		email, err := m.tokens.Verify(cookie.Value)
		if err != nil {
			clearSessionCookie(w, m.secureCookie)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), emailKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return m.LoadSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetEmail(r) == "" {
			unauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func GetEmail(r *http.Request) string {
	if v := r.Context().Value(emailKey); v != nil {
		if email, ok := v.(string); ok {
			return email
		}
	}
	return ""
}

func setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
