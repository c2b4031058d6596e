// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package admin

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

type contextKey struct{}

// UserID returns the authenticated user id stored by the auth middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// NewToken signs an HS256 admin token for userID. A zero ttl means no expiry.
func NewToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", oops.In("admin").Errorf("jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", oops.In("admin").With("user_id", userID).Wrap(err)
	}
	return signed, nil
}

func (s *Server) verify(raw string) (string, error) {
	if len(s.secret) == 0 {
		return "", oops.In("admin").Errorf("no jwt secret configured")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", oops.In("admin").Wrap(err)
	}
	if claims.Subject == "" {
		return "", oops.In("admin").Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// authenticate rejects requests without a valid bearer token (401) and users
// outside the admin list (403).
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || scheme != "Bearer" || token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := s.verify(token)
		if err != nil {
			s.logger.WarnContext(r.Context(), "admin token rejected", "path", r.URL.Path, "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if len(s.admins) == 0 {
			http.Error(w, "No admin users configured", http.StatusForbidden)
			return
		}
		if !slices.Contains(s.admins, userID) {
			s.logger.WarnContext(r.Context(), "non-admin denied", "user_id", userID, "path", r.URL.Path)
			http.Error(w, "Not an admin", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, userID)))
	})
}

// limiter keeps one token bucket per admin user.
type limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newLimiter(perSecond float64, burst int) *limiter {
	return &limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(UserID(r.Context())) {
			s.logger.WarnContext(r.Context(), "admin rate limit exceeded", "user_id", UserID(r.Context()), "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
