package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

const seedPasswordBytes = 16

// SeedAdmin creates an Admin for email when the store has no users at all,
// so a fresh install can be managed over the API. The random password is
// returned and logged once at warn level. An empty email, an existing user
// base, or a concurrent seed that won the race all skip with "".
func SeedAdmin(ctx context.Context, store Store, hasher *Hasher, email string, logger *slog.Logger) (string, error) {
	if email == "" {
		return "", nil
	}
	log := logger.With("op", "seed_admin")

	uow := store.Begin()
	n, err := uow.Users().Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if n > 0 {
		log.Info("users exist, skipping admin seed", "users", n)
		return "", nil
	}

	raw := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(raw)

	hash, err := hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{Email: email, PasswordHash: hash, Role: RoleAdmin}
	uow.Users().Add(admin)
	if _, err := uow.Commit(ctx); err != nil {
		if errors.Is(err, ErrEmailExists) {
			log.Info("admin already seeded", "email", email)
			return "", nil
		}
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	log.Warn("seed admin account created, change this password immediately",
		"email", email,
		"user_id", admin.ID,
		"password", password,
	)
	return password, nil
}
