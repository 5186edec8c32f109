package main

import (
	"context"
	"strings"

	"github.com/joho/godotenv"

	"github.com/oksasatya/user-accounts-api/config"
	pginfra "github.com/oksasatya/user-accounts-api/internal/infrastructure/postgres"
	"github.com/oksasatya/user-accounts-api/pkg/helpers"
)

// seed upserts the admin account. It is the only way to set is_admin.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-seed", cfg.Env)
	ctx := context.Background()

	pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), pginfra.PoolOptions{AppName: cfg.AppName + "-seed", MaxConns: 2})
	if err != nil {
		logger.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	email := strings.ToLower(strings.TrimSpace(cfg.SeedAdminEmail))
	hash, err := helpers.HashPassword(cfg.SeedAdminPassword)
	if err != nil {
		logger.Fatalf("failed to hash password: %v", err)
	}

	var id int64
	err = pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, is_admin)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, is_admin = TRUE, updated_at = now()
		RETURNING id
	`, cfg.SeedAdminUsername, email, hash).Scan(&id)
	if err != nil {
		logger.Fatalf("failed to seed admin: %v", err)
	}
	logger.WithField("user_id", id).WithField("email", email).Info("seeded admin user")
}
