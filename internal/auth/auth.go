// Package auth verifies session tokens issued by the identity provider. The
// token's subject is the user id; it is read from a Bearer header or, for
// browser page loads, from the session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maneesh/epubshelf/internal/logger"
)

// ErrNoToken means the request carried no credentials at all.
var ErrNoToken = errors.New("missing token")

type contextKey string

const userIDKey contextKey = "user_id"

// Authenticator validates HS256 session tokens
type Authenticator struct {
	secret     []byte
	cookieName string
	leeway     time.Duration
	log        *logger.Logger
}

// NewAuthenticator creates an authenticator for the shared secret
func NewAuthenticator(secret, cookieName string, log *logger.Logger) *Authenticator {
	return &Authenticator{
		secret:     []byte(secret),
		cookieName: cookieName,
		leeway:     30 * time.Second,
		log:        log.With("component", "auth"),
	}
}

func (a *Authenticator) tokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if a.cookieName != "" {
		if c, err := r.Cookie(a.cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

// Verify parses tokenString and returns its subject
func (a *Authenticator) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrNoToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// UserFromRequest returns the authenticated user id for r
func (a *Authenticator) UserFromRequest(r *http.Request) (string, error) {
	return a.Verify(a.tokenFromRequest(r))
}

// Middleware puts the user id into the request context when the request
// carries a valid token. It never rejects; handlers decide how to respond to
// anonymous requests (401 for the API, redirect for pages).
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.UserFromRequest(r)
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				a.log.Debug("token rejected", "path", r.URL.Path, "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// Issue signs a token for userID. Used by tests and local tooling.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

// WithUserID stores the user id in ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id, or "" for anonymous requests
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
