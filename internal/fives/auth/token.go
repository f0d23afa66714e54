package auth

import (
	"fmt"
	"time"

	"github.com/gartstein/fives/internal/fives/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity carried by access tokens.
type Claims struct {
	Email        string      `json:"email,omitempty"`
	Name         string      `json:"name,omitempty"`
	Role         models.Role `json:"role"`
	Companies    []string    `json:"companies,omitempty"`
	Environments []string    `json:"environments,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs claims with secret, valid for ttl.
func GenerateToken(claims Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken checks the token signature and expiry and returns its claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("invalid token: missing subject")
	}
	return claims, nil
}
