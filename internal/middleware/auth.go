package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	emailKey contextKey = "email"
	tokenKey contextKey = "token"
)

var ErrMissingEmailClaim = errors.New("token has no email claim")

// Claims identify the administrator by email. Role and scope always come from
// the directory, never from the token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens and keeps the logout blacklist in Redis.
type Authenticator struct {
	secret   []byte
	tokenTTL time.Duration
	redis    *redis.Client
	logger   logrus.FieldLogger
}

// NewAuthenticator uses tokenTTL for issued tokens and for blacklist entries
// of tokens that carry no expiry.
func NewAuthenticator(secret string, tokenTTL time.Duration, redisClient *redis.Client, logger logrus.FieldLogger) *Authenticator {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &Authenticator{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		redis:    redisClient,
		logger:   logger.WithField("component", "auth"),
	}
}

func blacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}
		token := parts[1]

		claims, err := a.ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		if a.redis != nil {
			revoked, err := a.redis.Exists(r.Context(), blacklistKey(token)).Result()
			if err != nil {
				a.logger.WithError(err).Warn("token blacklist lookup failed")
			} else if revoked > 0 {
				http.Error(w, "Token revoked", http.StatusUnauthorized)
				return
			}
		}

		ctx := context.WithValue(r.Context(), emailKey, claims.Email)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Email == "" {
		return nil, ErrMissingEmailClaim
	}
	return claims, nil
}

// IssueToken signs a token for email. A zero ttl means the configured token
// lifetime. Login itself lives with the identity provider.
func (a *Authenticator) IssueToken(email string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = a.tokenTTL
	}
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Revoke blacklists the token until it would have expired anyway.
func (a *Authenticator) Revoke(ctx context.Context, token string) error {
	if a.redis == nil {
		return nil
	}

	expiry := a.tokenTTL
	if claims, err := a.ValidateToken(token); err == nil && claims.ExpiresAt != nil {
		expiry = time.Until(claims.ExpiresAt.Time)
	}
	if expiry <= 0 {
		return nil
	}
	return a.redis.Set(ctx, blacklistKey(token), "1", expiry).Err()
}

// Logout godoc
// @Summary Logout
// @Description Blacklist the presented bearer token
// @Tags auth
// @Security BearerAuth
// @Success 204
// @Router /auth/logout [post]
func (a *Authenticator) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(tokenKey).(string)
	if token != "" {
		if err := a.Revoke(r.Context(), token); err != nil {
			a.logger.WithError(err).Error("failed to blacklist token")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// EmailFromContext returns the authenticated email set by Middleware.
func EmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok && email != ""
}
