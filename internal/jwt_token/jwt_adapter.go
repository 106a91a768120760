package jwttoken

import (
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	authmw "orgdesk/pkg/platform/middleware/auth"
)

// Validator adapts Service to the auth middleware's TokenValidator, turning
// string claims into typed ids.
type Validator struct {
	service *Service
}

func NewValidator(service *Service) *Validator {
	return &Validator{service: service}
}

func (v *Validator) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := v.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	out := &authmw.Claims{UserID: userID, Email: claims.Email}
	if claims.TenantID != "" {
		tenantID, err := id.ParseTenantID(claims.TenantID)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
		}
		out.TenantID = tenantID
	}
	return out, nil
}
