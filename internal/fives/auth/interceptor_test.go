package auth

import (
	"context"
	"testing"
	"time"

	"github.com/gartstein/fives/internal/fives/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	triggerMethod = "/fives.v1.SyncService/TriggerSync"
	statusMethod  = "/fives.v1.SyncService/Status"
)

func TestAuthInterceptor(t *testing.T) {
	const (
		validSecret   = "test-secret"
		invalidSecret = "wrong-secret"
		userID        = "test-user"
	)

	// Helper to generate test tokens
	generateToken := func(secret string, expiresAt time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Role: models.RoleAuditor,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID,
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
		})
		tokenString, _ := token.SignedString([]byte(secret))
		return tokenString
	}

	tests := []struct {
		name        string
		fullMethod  string
		token       string
		wantError   bool
		expectedErr codes.Code
	}{
		{
			name:        "protected method valid token",
			fullMethod:  triggerMethod,
			token:       generateToken(validSecret, time.Now().Add(1*time.Hour)),
			wantError:   false,
			expectedErr: codes.OK,
		},
		{
			name:        "protected method invalid token",
			fullMethod:  triggerMethod,
			token:       generateToken(invalidSecret, time.Now().Add(1*time.Hour)),
			wantError:   true,
			expectedErr: codes.Unauthenticated,
		},
		{
			name:        "protected method expired token",
			fullMethod:  triggerMethod,
			token:       generateToken(validSecret, time.Now().Add(-1*time.Hour)),
			wantError:   true,
			expectedErr: codes.Unauthenticated,
		},
		{
			name:        "protected method missing metadata",
			fullMethod:  triggerMethod,
			wantError:   true,
			expectedErr: codes.Unauthenticated,
		},
		{
			name:        "unprotected method no token",
			fullMethod:  statusMethod,
			wantError:   false,
			expectedErr: codes.OK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := NewAuthInterceptor(validSecret, triggerMethod)
			unaryInterceptor := interceptor.Unary()

			ctx := context.Background()
			if tt.token != "" {
				md := metadata.Pairs("authorization", "Bearer "+tt.token)
				ctx = metadata.NewIncomingContext(ctx, md)
			}

			// Mock handler that checks for claims in context
			handler := func(ctx context.Context, _ any) (any, error) {
				if tt.fullMethod == triggerMethod {
					claims, ok := ClaimsFromContext(ctx)
					if !ok || claims.Subject != userID {
						return nil, status.Error(codes.Unauthenticated, "claims not in context")
					}
				}
				return "response", nil
			}

			info := &grpc.UnaryServerInfo{FullMethod: tt.fullMethod}
			resp, err := unaryInterceptor(ctx, nil, info, handler)

			if tt.wantError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if status.Code(err) != tt.expectedErr {
					t.Errorf("expected error code %v, got %v", tt.expectedErr, status.Code(err))
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if resp != "response" {
					t.Error("handler response mismatch")
				}
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	valid, err := GenerateToken(Claims{
		Role:             models.RoleCompanyAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}, "secret", time.Hour)
	require.NoError(t, err)
	unknownRole, err := GenerateToken(Claims{
		Role:             "root",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}, "secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantErr error
		errText string
	}{
		{name: "valid", header: "Bearer " + valid},
		{name: "missing header", header: "", wantErr: errMissingHeader},
		{name: "missing prefix", header: valid, wantErr: errBadScheme},
		{name: "empty token", header: "Bearer ", wantErr: errEmptyToken},
		{name: "garbage token", header: "Bearer abc", errText: "invalid token"},
		{name: "unknown role", header: "Bearer " + unknownRole, errText: "unknown role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := Authenticate(tt.header, "secret")
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
			default:
				require.NoError(t, err)
				assert.Equal(t, "u1", claims.Subject)
				assert.Equal(t, models.RoleCompanyAdmin, claims.Role)
			}
		})
	}
}
