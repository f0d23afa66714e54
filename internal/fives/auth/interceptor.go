// Package auth provides a gRPC unary interceptor, an HTTP middleware and JWT
// helpers securing the write and sync endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	errMissingHeader = errors.New("authorization header missing")
	errBadScheme     = errors.New("invalid authorization format: missing Bearer prefix")
	errEmptyToken    = errors.New("invalid authorization format: empty token")
)

type contextKey struct{}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the claims attached by the interceptor or middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

// Authenticate verifies an Authorization header value and returns the
// claims of a token carrying a known role.
func Authenticate(header, secret string) (*Claims, error) {
	token, err := bearerToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := ParseToken(token, secret)
	if err != nil {
		return nil, err
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid token: unknown role %q", claims.Role)
	}
	return claims, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errBadScheme
	}
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// Interceptor authenticates calls to a set of gRPC methods.
type Interceptor struct {
	secret    string
	protected map[string]bool
}

// NewAuthInterceptor creates an Interceptor guarding the given full method names.
func NewAuthInterceptor(jwtSecret string, protectedMethods ...string) *Interceptor {
	protected := make(map[string]bool, len(protectedMethods))
	for _, m := range protectedMethods {
		protected[m] = true
	}
	return &Interceptor{secret: jwtSecret, protected: protected}
}

// Unary validates the bearer token of protected methods and passes the
// claims on in the context. Other methods are served as is.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !i.protected[info.FullMethod] {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}
		claims, err := Authenticate(header, i.secret)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithClaims(ctx, claims), req)
	}
}
