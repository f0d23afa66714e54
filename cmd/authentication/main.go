// This is a mock authentication service. It issues fives JWTs for local
// development and demos, standing in for the real identity provider.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gartstein/fives/internal/fives/auth"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultAddr   = ":8081"
	defaultSecret = "jwt_secret"
	tokenTTL      = 24 * time.Hour
	issuer        = "fives-mock-auth"
)

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// tokenHandler signs a token for the identity described by the query:
// sub, email, name, role and repeated company and environment values.
func tokenHandler(secret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		role := models.Role(q.Get("role"))
		if role == "" {
			role = models.RoleAuditor
		}
		if !role.Valid() {
			http.Error(w, "unknown role", http.StatusBadRequest)
			return
		}
		subject := q.Get("sub")
		if subject == "" {
			subject = uuid.NewString()
		}

		claims := auth.Claims{
			Email:        q.Get("email"),
			Name:         q.Get("name"),
			Role:         role,
			Companies:    q["company"],
			Environments: q["environment"],
			RegisteredClaims: jwt.RegisteredClaims{
				Subject: subject,
				Issuer:  issuer,
			},
		}
		token, err := auth.GenerateToken(claims, secret, tokenTTL)
		if err != nil {
			logger.Error("Failed to generate token", zap.Error(err))
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		logger.Info("Issued token", zap.String("sub", subject), zap.String("role", string(role)))
		w.Header().Set("Content-Type", "application/json")
		resp := TokenResponse{Token: token, ExpiresAt: time.Now().Add(tokenTTL).UTC()}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("Failed to encode token", zap.Error(err))
		}
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	secret := os.Getenv("FIVES_AUTH_JWT_SECRET")
	if secret == "" {
		secret = defaultSecret
	}
	addr := os.Getenv("AUTH_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/token", tokenHandler(secret, logger))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("Authentication service running", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("Authentication service stopped", zap.Error(err))
	}
}
