package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"box-claims-api/internal/authz"
	"box-claims-api/internal/logging"
	"box-claims-api/internal/models"
)

// TokenClaims is the JWT payload issued by the identity provider.
type TokenClaims struct {
	Username string `json:"username"`
	IsStaff  bool   `json:"is_staff"`
	jwt.RegisteredClaims
}

// UserDirectory records identities seen on authenticated requests.
type UserDirectory interface {
	UpsertUser(ctx context.Context, user models.User) error
}

type contextKey string

const callerKey contextKey = "caller"

// Auth validates the bearer token, stores the caller in the request context
// and records the caller in dir. Requests without a valid token get 401.
func Auth(secret string, dir UserDirectory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := callerFromRequest(r, secret)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="box-claims"`)
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprintf(w, `{"error": %q}`, err.Error())
				return
			}

			if dir != nil {
				user := models.User{
					ID:       caller.ID,
					Username: caller.Username,
					IsStaff:  caller.IsStaff,
					LastSeen: time.Now().UTC(),
				}
				if err := dir.UpsertUser(r.Context(), user); err != nil {
					logging.Warn(r.Context()).Err(err).Str("user_id", caller.ID).Msg("failed to record user")
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func callerFromRequest(r *http.Request, secret string) (authz.Caller, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return authz.Caller{}, errors.New("missing authorization header")
	}

	scheme, tokenString, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tokenString == "" {
		return authz.Caller{}, errors.New("invalid authorization header format")
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return authz.Caller{}, errors.New("invalid or expired token")
	}
	if claims.Subject == "" {
		return authz.Caller{}, errors.New("token has no subject")
	}

	return authz.Caller{
		ID:       claims.Subject,
		Username: claims.Username,
		IsStaff:  claims.IsStaff,
	}, nil
}

// SignToken issues an HS256 token for caller, valid for ttl.
func SignToken(secret string, caller authz.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Username: caller.Username,
		IsStaff:  caller.IsStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller authz.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (authz.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(authz.Caller)
	return caller, ok
}
