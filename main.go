package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"license-server/config"
	"license-server/internal/api"
	"license-server/internal/attempts"
	"license-server/internal/auth"
	"license-server/internal/authority"
	"license-server/internal/cache"
	"license-server/internal/database"
	"license-server/internal/events"
	"license-server/internal/logging"
	"license-server/internal/vault"
	"license-server/internal/verification"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	// Initialize database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	repo := database.NewRepository(db)
	audit := database.NewAuditRepository(db)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cooldown := time.Duration(cfg.LicenseConfig.DomainChangeCooldownHours) * time.Hour
	ledger := database.NewBindingLedger(db, cooldown, zlog)

	// Initialize Redis-backed cache when enabled, in-memory otherwise
	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.Warn("Redis unavailable, using in-memory cache", "error", err)
			cacheService = nil
		} else {
			defer cacheService.Close()
		}
	}

	cacheTTL := time.Duration(cfg.LicenseConfig.CacheDurationMinutes) * time.Minute
	verifyCache := cache.NewVerificationCache(cacheService, cacheTTL, logger)

	// Attempt tracker shares the Redis connection when available so
	// lockouts survive restarts and span replicas
	trackerCfg := attempts.Config{
		MaxAttempts: cfg.LicenseConfig.MaxVerificationAttempts,
		Window:      time.Duration(cfg.LicenseConfig.AttemptWindowMinutes) * time.Minute,
		Lockout:     time.Duration(cfg.LicenseConfig.LockoutDurationMinutes) * time.Minute,
	}
	var tracker verification.AttemptTracker
	if cacheService != nil {
		tracker = attempts.NewRedisTracker(cacheService.GetClient(), trackerCfg)
		logger.Info("Attempt tracker initialized", "backend", "redis")
	} else {
		memTracker := attempts.NewMemoryTracker(trackerCfg)
		tracker = memTracker
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memTracker.Prune()
				verifyCache.Sweep()
			}
		}()
		logger.Info("Attempt tracker initialized", "backend", "memory")
	}

	// Authority client, with credentials from Vault when enabled
	var authorityClient verification.AuthorityClient
	if cfg.LicenseConfig.VerifyWithEnvato {
		authorityCfg := authority.Config{
			BaseURL:       cfg.AuthorityConfig.BaseURL,
			Token:         cfg.AuthorityConfig.Token,
			Timeout:       time.Duration(cfg.AuthorityConfig.TimeoutSeconds) * time.Second,
			RetryAttempts: cfg.AuthorityConfig.RetryAttempts,
			RetryBackoff:  time.Duration(cfg.AuthorityConfig.RetryBackoffSeconds) * time.Second,
		}

		vaultClient, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			log.Fatalf("Failed to create vault client: %v", err)
		}
		if cfg.VaultConfig.Enabled {
			creds, err := vaultClient.GetAuthorityCredentials(ctx, "envato")
			if err != nil {
				logger.Warn("Failed to load authority credentials from vault, using config", "error", err)
			} else if creds != nil {
				authorityCfg.Token = creds.Token
				if creds.BaseURL != "" {
					authorityCfg.BaseURL = creds.BaseURL
				}
				logger.Info("Authority credentials loaded from vault")
			}
		}

		authorityClient = authority.NewClient(authorityCfg, logger)
		logger.Info("Authority verification enabled", "base_url", authorityCfg.BaseURL)
	}

	// Verification engine
	engine := verification.New(verification.Deps{
		Store:     repo,
		Ledger:    ledger,
		Tracker:   tracker,
		Cache:     verifyCache,
		Authority: authorityClient,
		Audit:     audit,
		Bus:       eventBus,
		Logger:    logger,
	}, verification.Options{
		UseAuthority:       cfg.LicenseConfig.VerifyWithEnvato,
		FallbackToInternal: cfg.LicenseConfig.FallbackToInternal,
		AllowOffline:       cfg.LicenseConfig.AllowOfflineVerification,
		CacheResults:       cfg.LicenseConfig.CacheVerificationResults,
		AllowExpired:       cfg.LicenseConfig.AllowExpiredVerification,
		DomainPolicy: verification.DomainPolicy{
			AllowLocalhost: cfg.LicenseConfig.AllowLocalhost,
			AllowWildcards: cfg.LicenseConfig.AllowWildcards,
		},
	})
	logger.Info("Verification engine initialized",
		"authority", cfg.LicenseConfig.VerifyWithEnvato,
		"cache", cfg.LicenseConfig.CacheVerificationResults)

	// Admin authentication
	var jwtManager *auth.JWTManager
	var authService *auth.Service
	if cfg.AuthConfig.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration)
		authService = auth.NewService(repo, jwtManager, logger)

		if cfg.AuthConfig.AdminEmail != "" && cfg.AuthConfig.AdminPassword != "" {
			if err := auth.SeedAdminUser(ctx, repo, cfg.AuthConfig.AdminEmail, cfg.AuthConfig.AdminPassword); err != nil {
				logger.Error("Failed to seed admin user", "error", err)
			}
		}
	} else {
		logger.Warn("AUTH_JWT_SECRET not set, admin API is unprotected")
	}

	// Web server
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		RateLimit:      cfg.ServerConfig.RateLimit,
		RateWindow:     time.Duration(cfg.ServerConfig.RateWindowSecs) * time.Second,
	}, engine, repo, ledger, audit, verifyCache, tracker, eventBus, authService, jwtManager, logger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start web server: %v", err)
		}
	}()

	log.Printf("License server listening on http://%s:%d", cfg.ServerConfig.Host, cfg.ServerConfig.Port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down web server: %v", err)
	}

	log.Println("Shutdown complete")
}
