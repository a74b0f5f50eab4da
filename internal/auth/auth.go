// Package auth provides the session cookie middleware and helpers. The
// cookie value is the opaque session id wrapped in an HMAC-signed JWT, so
// tampered cookies are rejected before any session lookup; the
// server-side session table remains the single source of truth.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/shoplite/internal/logger"
	"github.com/patric-chuzhbe/shoplite/internal/models"
)

type sessionValidator interface {
	Validate(sessionID string) (string, error)
}

// Auth validates the session cookie on protected routes and issues or
// clears it on login and logout.
type Auth struct {
	// sessions resolves session ids to user ids.
	sessions sessionValidator

	// cookieName is the name of the cookie carrying the signed session id.
	cookieName string

	// signingSecretKey is the key used to sign the cookie JWT.
	signingSecretKey []byte
}

// Claims is the JWT payload of the session cookie. Only the session id
// travels to the client.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// UserIDKey is the context key used to store and retrieve the authenticated user's ID.
const UserIDKey ContextKey = "userID"

// New creates an Auth with the given session table, cookie name, and
// signing secret.
func New(
	sessions sessionValidator,
	cookieName string,
	signingSecretKey []byte,
) *Auth {
	return &Auth{
		sessions:         sessions,
		cookieName:       cookieName,
		signingSecretKey: signingSecretKey,
	}
}

// IssueCookie signs the session id and sets it as an HTTP-only cookie
// expiring together with the session.
func (a *Auth) IssueCookie(response http.ResponseWriter, sess models.Session) error {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
		SessionID: sess.ID,
	})

	tokenString, err := token.SignedString(a.signingSecretKey)
	if err != nil {
		return err
	}

	http.SetCookie(
		response,
		&http.Cookie{
			Name:     a.cookieName,
			Value:    tokenString,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	)

	return nil
}

// ClearCookie overwrites the session cookie with an already-expired one.
func (a *Auth) ClearCookie(response http.ResponseWriter) {
	http.SetCookie(
		response,
		&http.Cookie{
			Name:     a.cookieName,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	)
}

// SessionIDFromRequest extracts and verifies the session id from the
// request cookie without consulting the session table. Logout uses it to
// know which session to destroy.
func (a *Auth) SessionIDFromRequest(request *http.Request) (string, bool) {
	cookie, err := request.Cookie(a.cookieName)
	if err != nil {
		return "", false
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		cookie.Value,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.signingSecretKey, nil
		},
	)
	if err != nil || !token.Valid || claims.SessionID == "" {
		return "", false
	}

	return claims.SessionID, true
}

// RequireUser is an HTTP middleware gating protected routes. It resolves
// the session cookie to a user id and stores it in the request context;
// requests without a valid, known, unexpired session get 401.
func (a *Auth) RequireUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		sessionID, ok := a.SessionIDFromRequest(request)
		if !ok {
			a.unauthenticated(response)
			return
		}

		userID, err := a.sessions.Validate(sessionID)
		if err != nil {
			logger.Log.Debugln("session validation failed: ", zap.Error(err))
			a.unauthenticated(response)
			return
		}

		ctx := context.WithValue(request.Context(), UserIDKey, userID)
		requestWithCtx := request.WithContext(ctx)
		h.ServeHTTP(response, requestWithCtx)
	}

	return http.HandlerFunc(middleware)
}

func (a *Auth) unauthenticated(response http.ResponseWriter) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusUnauthorized)
	_, _ = response.Write([]byte(`{"error":"unauthenticated"}`))
}

// UserIDFromContext returns the authenticated user id stored by
// RequireUser.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}
