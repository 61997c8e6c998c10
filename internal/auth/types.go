// Package auth provides JWT-based authentication for the admin API.
package auth

import (
	"time"
)

// AdminClaims represents the JWT claims for an admin user
type AdminClaims struct {
	AdminID string `json:"admin_id"`
	Email   string `json:"email"`
}

// LoginRequest represents an admin login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"` // Always "Bearer"
	ExpiresIn   int64         `json:"expires_in"` // Seconds
	Admin       AdminResponse `json:"admin"`
}

// AdminResponse represents admin data returned to the client
type AdminResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// AuthError is a typed authentication error with a stable code
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

var (
	ErrInvalidToken       = AuthError{Code: "invalid_token", Message: "invalid or malformed token"}
	ErrTokenExpired       = AuthError{Code: "token_expired", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "unauthorized", Message: "authentication required"}
	ErrInvalidCredentials = AuthError{Code: "invalid_credentials", Message: "invalid email or password"}
)
