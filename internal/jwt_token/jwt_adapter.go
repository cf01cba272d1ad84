package jwttoken

import (
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
)

// UsernameClaim is the custom claim carrying the login name of the subject.
const UsernameClaim = "username"

// ValidateToken decodes a token into a request principal. It satisfies the
// token validator expected by the authentication middleware.
func (s *JWTService) ValidateToken(tokenString string) (id.Principal, error) {
	claims, err := s.Decode(tokenString)
	if err != nil {
		return id.Principal{}, err
	}
	return ToPrincipal(claims)
}

// ToPrincipal converts verified claims into a principal. A subject that is not
// a user id makes the token malformed.
func ToPrincipal(claims *Claims) (id.Principal, error) {
	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return id.Principal{}, dErrors.Wrap(ErrMalformed, dErrors.CodeUnauthorized, "malformed token")
	}
	return id.Principal{
		UserID:    userID,
		Username:  claims.StringClaim(UsernameClaim),
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
		Claims:    claims.Extra,
	}, nil
}
