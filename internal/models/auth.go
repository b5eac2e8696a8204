package models

import "time"

// RegisterRequest creates a self-service account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest carries a refresh token in the body when no cookie or header is sent.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72,nefield=OldPassword"`
}

// AuthResponse returns the issued tokens and user info.
type AuthResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresIn int64     `json:"refresh_expires_in"`
	SessionID        string    `json:"session_id"`
	User             UserInfo  `json:"user"`
	IssuedAt         time.Time `json:"issued_at"`
}

// NewAuthResponse renders an AuthResult relative to now.
func NewAuthResponse(res *AuthResult, now time.Time) AuthResponse {
	return AuthResponse{
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(res.Tokens.AccessTokenExpiresAt.Sub(now).Seconds()),
		RefreshExpiresIn: int64(res.Tokens.RefreshTokenExpiresAt.Sub(now).Seconds()),
		SessionID:        res.Session.ID,
		User:             NewUserInfo(res.User),
		IssuedAt:         now,
	}
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	FullName string  `json:"full_name"`
	Roles    RoleSet `json:"roles"`
}

// NewUserInfo projects a user for responses.
func NewUserInfo(u *User) UserInfo {
	if u == nil {
		return UserInfo{}
	}
	return UserInfo{ID: u.ID, Email: u.Email, FullName: u.FullName, Roles: u.Roles}
}
