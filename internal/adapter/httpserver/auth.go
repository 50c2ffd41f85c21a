package httpserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/usecase"
)

type userIDKey struct{}

// UserIDFromContext returns the authenticated user id or empty.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}

// CronAuth guards /tasks/* with a shared-secret header. The compare is
// constant time; missing or wrong secret answers 401 without detail and
// counts toward the integrity incident log.
func CronAuth(secret string, integrity *usecase.IntegrityStats) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Cron-Secret")
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				integrity.RecordAuthFailure(time.Now())
				writeError(w, r, fmt.Errorf("op=auth.cron: %w", domain.ErrAuthFailed), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserAuth resolves the caller's user id from a JWT bearer token. Outside
// production the X-Test-Mode-User header substitutes for a token so local
// and CI flows need no token mint.
func UserAuth(jwtSecret string, allowTestHeader bool, integrity *usecase.IntegrityStats) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowTestHeader {
				if uid := r.Header.Get("X-Test-Mode-User"); uid != "" {
					ctx := context.WithValue(r.Context(), userIDKey{}, uid)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				integrity.RecordAuthFailure(time.Now())
				writeError(w, r, fmt.Errorf("op=auth.user: missing bearer token: %w", domain.ErrAuthFailed), nil)
				return
			}
			raw := strings.TrimPrefix(authz, "Bearer ")
			uid, err := parseUserToken(raw, jwtSecret)
			if err != nil {
				integrity.RecordAuthFailure(time.Now())
				writeError(w, r, fmt.Errorf("op=auth.user: %w", domain.ErrAuthFailed), nil)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey{}, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseUserToken(raw, secret string) (string, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("missing sub claim")
	}
	return sub, nil
}
