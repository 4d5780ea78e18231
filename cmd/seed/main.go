// seed creates the first admin account so the admin-only endpoints are reachable.
// Set SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD (SEED_ADMIN_NAME is optional).
// Idempotent: does nothing if a user with that email already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"roomchat/backend/internal/config"
	"roomchat/backend/internal/db"
	"roomchat/backend/internal/security"
	"roomchat/backend/internal/user/domain"
	userrepo "roomchat/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	v.SetDefault("SEED_ADMIN_NAME", "Administrator")
	v.SetDefault("SEED_ADMIN_EMAIL", "")
	v.SetDefault("SEED_ADMIN_PASSWORD", "")

	email := domain.NormalizeEmail(v.GetString("SEED_ADMIN_EMAIL"))
	password := v.GetString("SEED_ADMIN_PASSWORD")
	if err := domain.ValidateEmail(email); err != nil {
		log.Fatalf("SEED_ADMIN_EMAIL: %v", err)
	}
	if err := domain.ValidatePassword(password); err != nil {
		log.Fatalf("SEED_ADMIN_PASSWORD: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", email)
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	now := time.Now().UTC()
	admin := &domain.User{
		ID:           uuid.New().String(),
		Name:         v.GetString("SEED_ADMIN_NAME"),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, admin); err != nil {
		log.Fatalf("create admin: %v", err)
	}
	log.Printf("Seed completed: admin %s (%s)", email, admin.ID)
}
