package handler

import (
	"parley/internal/users/models"
	id "parley/pkg/domain"
)

// UserResponse is the public user view. It never carries the password hash.
type UserResponse struct {
	ID       id.UserID `json:"id"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	FullName *string   `json:"full_name"`
	IsActive bool      `json:"is_active"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.Username,
		FullName: u.FullName,
		IsActive: u.IsActive,
	}
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func toTokenResponse(t *models.TokenResult) TokenResponse {
	return TokenResponse{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		ExpiresIn:   t.ExpiresIn,
	}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
