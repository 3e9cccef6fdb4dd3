package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/trailquest/checkin-service/internal/util/logger"
)

const ctxOperatorClaimsKey ctxKey = 100

const operatorRole = "operator"

// OperatorClaims are the claims carried by staff tokens minted by the
// adventure management console.
type OperatorClaims struct {
	Role        string `json:"role"`
	OperatorID  string `json:"operator_id"`
	AdventureID string `json:"adventure_id,omitempty"`

	jwt.RegisteredClaims
}

func OperatorFromContext(ctx context.Context) (*OperatorClaims, bool) {
	v := ctx.Value(ctxOperatorClaimsKey)
	if v == nil {
		return nil, false
	}
	c, ok := v.(*OperatorClaims)
	return c, ok
}

// OperatorAuth guards staff-only routes. Tokens are HS256, shared
// secret with the console; any parse failure yields 401.
type OperatorAuth struct {
	secret []byte
}

func NewOperatorAuth(secret string) (*OperatorAuth, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("operator auth secret is required")
	}
	return &OperatorAuth{secret: []byte(secret)}, nil
}

func (a *OperatorAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := a.validate(raw)
		if err != nil {
			logger.Warnf("operator auth rejected: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxOperatorClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *OperatorAuth) validate(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if claims.Role != operatorRole {
		return nil, fmt.Errorf("role %q is not permitted", claims.Role)
	}
	if claims.ExpiresAt == nil || time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.New("token expired")
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
