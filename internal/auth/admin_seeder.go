package auth

import (
	"context"
	"fmt"
	"log"

	"license-server/internal/database"
)

// SeedAdminUser ensures the configured admin account exists. An existing
// account is never overwritten, so a password changed after first start
// survives restarts.
func SeedAdminUser(ctx context.Context, repo *database.Repository, email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("admin email and password must be configured")
	}

	existing, err := repo.GetAdminByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check for admin user: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	if err := repo.CreateAdminUser(ctx, email, hash); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	log.Printf("Admin user created: %s", email)
	return nil
}
