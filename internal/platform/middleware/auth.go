package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// DeviceClaims represents the claims we expect from the token validator.
type DeviceClaims struct {
	DeviceID       string
	TenantID       string
	OrganizationID string
	ClinicID       string
	UserID         string
	Type           string
}

// TokenValidator defines the interface for validating device access tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*DeviceClaims, error)
}

type contextKeyDeviceClaims struct{}

// GetDeviceClaims retrieves the authenticated device claims from the context.
func GetDeviceClaims(ctx context.Context) *DeviceClaims {
	if claims, ok := ctx.Value(contextKeyDeviceClaims{}).(*DeviceClaims); ok {
		return claims
	}
	return nil
}

// WithDeviceClaims injects device claims into a context. Useful for handler
// tests that don't run the full middleware chain.
func WithDeviceClaims(ctx context.Context, claims *DeviceClaims) context.Context {
	return context.WithValue(ctx, contextKeyDeviceClaims{}, claims)
}

// RequireDevice gates sync routes on a valid device token. It does not check
// revocation; the device registry's verify step does that against the store.
func RequireDevice(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Type != "device" {
				logger.WarnContext(ctx, "unauthorized access - wrong token type",
					"type", claims.Type,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithDeviceClaims(ctx, claims)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
