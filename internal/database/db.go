// Package database provides PostgreSQL-backed storage for licenses,
// domain bindings, verification logs and admin users.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Licenses: root entity, soft-retired via status, never deleted
		`CREATE TABLE IF NOT EXISTS licenses (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			key VARCHAR(20) UNIQUE NOT NULL,
			product_id VARCHAR(100) NOT NULL,
			type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			issued_at TIMESTAMP NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP,
			support_expires_at TIMESTAMP,
			max_domains INTEGER NOT NULL DEFAULT 1,
			grace_period_days INTEGER NOT NULL DEFAULT 7,
			customer_email VARCHAR(255),
			notes TEXT,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_key ON licenses(key)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_product ON licenses(product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_status ON licenses(status)`,

		// Domain bindings: one row per bind, deactivated rather than
		// deleted so the per-domain cooldown can be evaluated
		`CREATE TABLE IF NOT EXISTS domain_bindings (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			license_id UUID NOT NULL REFERENCES licenses(id),
			domain VARCHAR(255) NOT NULL,
			bound_at TIMESTAMP NOT NULL DEFAULT NOW(),
			last_verified_at TIMESTAMP NOT NULL DEFAULT NOW(),
			deactivated_at TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bindings_license_domain_active
			ON domain_bindings(license_id, domain) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_domain ON domain_bindings(domain)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_license ON domain_bindings(license_id) WHERE is_active`,

		// Verification logs: append-only
		`CREATE TABLE IF NOT EXISTS verification_logs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			license_key VARCHAR(20) NOT NULL,
			domain VARCHAR(255) NOT NULL,
			product_id VARCHAR(100) NOT NULL,
			outcome VARCHAR(30) NOT NULL,
			reason_code VARCHAR(40),
			ip_address VARCHAR(45),
			user_agent TEXT,
			used_authority_fallback BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_logs_key ON verification_logs(license_key)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_logs_created ON verification_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_logs_outcome ON verification_logs(outcome)`,

		// Admin users for the management API
		`CREATE TABLE IF NOT EXISTS admin_users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			last_login_at TIMESTAMP
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
