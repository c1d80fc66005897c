// seed inserts development sample accounts for local testing. Run via ./scripts/seed.sh.
// Idempotent: skips inserts if the dev account (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	accountdomain "account-platform/backend/internal/account/domain"
	accountrepo "account-platform/backend/internal/account/repository"
	"account-platform/backend/internal/config"
	"account-platform/backend/internal/db"
	"account-platform/backend/internal/security"
)

const (
	devEmail      = "dev@example.com"
	devUsername   = "dev"
	adminEmail    = "admin@example.com"
	adminUsername = "admin"
	devPassword   = "Password123!dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	accounts := accountrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	existing, err := accounts.GetByEmail(ctx, devEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash(devPassword)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()

	dev := &accountdomain.Account{
		ID:            uuid.New().String(),
		Username:      devUsername,
		Email:         devEmail,
		PasswordHash:  passwordHash,
		Roles:         []string{"user"},
		Enabled:       true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := accounts.Create(ctx, dev); err != nil {
		log.Fatalf("create dev account: %v", err)
	}

	admin := &accountdomain.Account{
		ID:            uuid.New().String(),
		Username:      adminUsername,
		Email:         adminEmail,
		PasswordHash:  passwordHash,
		Roles:         []string{"user", "admin"},
		Enabled:       true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := accounts.Create(ctx, admin); err != nil {
		log.Fatalf("create admin account: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devUsername, devPassword)
	fmt.Printf("Admin login: %s / %s\n", adminUsername, devPassword)
}
