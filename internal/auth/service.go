package auth

import (
	"context"
	"fmt"

	"license-server/internal/database"
	"license-server/internal/logging"
)

// Service handles admin authentication
type Service struct {
	repo *database.Repository
	jwt  *JWTManager
	log  *logging.Logger
}

// NewService creates an auth service
func NewService(repo *database.Repository, jwt *JWTManager, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{
		repo: repo,
		jwt:  jwt,
		log:  log.WithComponent("auth"),
	}
}

// Login authenticates an admin and returns an access token
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	admin, err := s.repo.GetAdminByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up admin: %w", err)
	}
	if admin == nil || !VerifyPassword(req.Password, admin.PasswordHash) {
		s.log.Warn("failed admin login", "email", req.Email)
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(AdminClaims{
		AdminID: admin.ID,
		Email:   admin.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.repo.TouchAdminLogin(ctx, admin.ID); err != nil {
		s.log.Warn("failed to record admin login", "error", err)
	}

	s.log.Info("admin logged in", "email", admin.Email)
	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwt.GetAccessTokenDuration(),
		Admin: AdminResponse{
			ID:          admin.ID,
			Email:       admin.Email,
			CreatedAt:   admin.CreatedAt,
			LastLoginAt: admin.LastLoginAt,
		},
	}, nil
}
