// Package middleware provides JWT authentication for the HTTP API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"guitar-practice/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "userID"

const defaultTokenTTL = 72 * time.Hour

func jwtSecret() ([]byte, error) {
	secret := utils.GetEnv("JWT_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	return []byte(secret), nil
}

// IssueToken signs an HS256 token for the given user. Returns the token
// string, its ID and its expiry.
func IssueToken(userID string) (string, string, time.Time, error) {
	secret, err := jwtSecret()
	if err != nil {
		return "", "", time.Time{}, err
	}

	tokenID := uuid.NewString()
	expiresAt := time.Now().Add(defaultTokenTTL)
	claims := jwt.MapClaims{
		"sub": userID,
		"jti": tokenID,
		"iat": time.Now().Unix(),
		"exp": expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign token: %v", err)
	}
	return signed, tokenID, expiresAt, nil
}

// ParseToken validates a signed token and returns the user ID, token ID and
// expiry from its claims.
func ParseToken(tokenString string) (string, string, time.Time, error) {
	secret, err := jwtSecret()
	if err != nil {
		return "", "", time.Time{}, err
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", time.Time{}, fmt.Errorf("invalid token claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return "", "", time.Time{}, fmt.Errorf("token missing subject")
	}
	tokenID, _ := claims["jti"].(string)

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}

	return userID, tokenID, expiresAt, nil
}

// RequireAuth wraps a handler and rejects requests without a valid, unrevoked
// Bearer token. The authenticated user ID is placed on the request context.
func RequireAuth(store RevocationStore, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Preflight requests carry no credentials.
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, `{"success":false,"message":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}

		userID, tokenID, _, err := ParseToken(tokenString)
		if err != nil {
			http.Error(w, `{"success":false,"message":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}
		if store != nil && store.IsRevoked(tokenID) {
			http.Error(w, `{"success":false,"message":"token has been revoked"}`, http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// UserID returns the authenticated user ID from a request context, if any.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
