package device

import "clinicsync/internal/platform/middleware"

// TokenAdapter bridges the token service to the middleware's validator
// interface without making the middleware depend on this package.
type TokenAdapter struct {
	tokens *TokenService
}

func NewTokenAdapter(tokens *TokenService) *TokenAdapter {
	return &TokenAdapter{tokens: tokens}
}

func (a *TokenAdapter) ValidateToken(tokenString string) (*middleware.DeviceClaims, error) {
	claims, err := a.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.DeviceClaims{
		DeviceID:       claims.DeviceID,
		TenantID:       claims.TenantID,
		OrganizationID: claims.OrganizationID,
		ClinicID:       claims.ClinicID,
		UserID:         claims.UserID,
		Type:           claims.Type,
	}, nil
}
