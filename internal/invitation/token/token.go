// Package token issues and parses the signed invite codes embedded in
// invitation emails. The code is a compact JWT so validation needs no
// datastore round trip before the invitation lookup.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"orgdesk/internal/invitation/models"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/sentinel"
)

// Claims are the invite code claims.
type Claims struct {
	InvitationID   string `json:"invitation_id"`
	Email          string `json:"email"`
	TenantID       string `json:"tenant_id"`
	InvitationType string `json:"invitation_type"`
	jwt.RegisteredClaims
}

// Issuer signs and validates invite codes with a shared HMAC key.
type Issuer struct {
	signingKey []byte
	issuer     string
}

func NewIssuer(signingKey, issuer string) *Issuer {
	return &Issuer{signingKey: []byte(signingKey), issuer: issuer}
}

// Issue signs an invite code for the invitation, expiring together with it.
func (s *Issuer) Issue(inv *models.Invitation) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		InvitationID:   inv.ID.String(),
		Email:          inv.Email,
		TenantID:       inv.TenantID.String(),
		InvitationType: string(inv.InvitationType),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(inv.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(inv.CreatedAt),
			Issuer:    s.issuer,
			Subject:   inv.Email,
			ID:        inv.ID.String(),
		},
	})

	signed, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign invite code")
	}
	return signed, nil
}

// Parse validates the invite code signature and returns the invitation ID it
// names. An expired code surfaces sentinel.ErrExpired so callers can report
// the precise reason instead of a generic auth failure.
func (s *Issuer) Parse(code string) (id.InvitationID, *Claims, error) {
	parsed, err := jwt.ParseWithClaims(code, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.InvitationID{}, nil, sentinel.ErrExpired
		}
		return id.InvitationID{}, nil, dErrors.New(dErrors.CodeUnauthorized, "invalid invite code")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return id.InvitationID{}, nil, dErrors.New(dErrors.CodeUnauthorized, "invalid invite code claims")
	}

	invitationID, err := id.ParseInvitationID(claims.InvitationID)
	if err != nil {
		return id.InvitationID{}, nil, dErrors.New(dErrors.CodeUnauthorized, "invalid invitation id in invite code")
	}
	return invitationID, claims, nil
}

// Remaining reports how long the code stays valid from now. Zero when expired.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil || !now.Before(c.ExpiresAt.Time) {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}
