package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/tempsys-core/internal/api"
	"github.com/nerrad567/tempsys-core/internal/audit"
	"github.com/nerrad567/tempsys-core/internal/auth"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/config"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/database"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/logging"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/postgres"
	"github.com/nerrad567/tempsys-core/migrations"
)

// storage bundles the driver-specific stores behind Database.Driver.
type storage struct {
	store  auth.Store
	audit  audit.Repository
	health api.HealthChecker
	close  func() error
}

// openStorage connects to the configured database. With migrate set, pending
// migrations are applied before returning.
func openStorage(ctx context.Context, cfg *config.Config, log *logging.Logger, migrate bool) (*storage, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := db.Migrate(ctx, migrations.Postgres()); err != nil {
				db.Close() //nolint:errcheck // already failing
				return nil, fmt.Errorf("running migrations: %w", err)
			}
			log.Info("database migrations complete", "driver", config.DriverPostgres)
		}
		log.Info("database connected", "driver", config.DriverPostgres)
		return &storage{
			store:  auth.NewPostgresStore(db.Pool),
			audit:  audit.NewPostgresRepository(db.Pool),
			health: db,
			close:  db.Close,
		}, nil

	default:
		db, err := openSQLite(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := db.Migrate(ctx, migrations.SQLite()); err != nil {
				db.Close() //nolint:errcheck // already failing
				return nil, fmt.Errorf("running migrations: %w", err)
			}
			log.Info("database migrations complete", "driver", config.DriverSQLite)
		}
		log.Info("database connected", "driver", config.DriverSQLite, "path", cfg.Database.Path)
		return &storage{
			store:  auth.NewSQLiteStore(db.DB),
			audit:  audit.NewSQLiteRepository(db.DB),
			health: db,
			close:  db.Close,
		}, nil
	}
}

func openSQLite(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.Open(ctx, postgres.Config{
		URL:      cfg.Database.Postgres.URL,
		MaxConns: cfg.Database.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return db, nil
}

// loadConfig reads the configuration and builds the configured logger.
func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logging.New(cfg.Logging, version)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising logger: %w", err)
	}
	return cfg, log, nil
}

func newHasher(cfg config.PasswordConfig) *auth.Hasher {
	return auth.NewHasher(auth.HashParams{
		Parallelism: cfg.Parallelism,
		MemoryKiB:   cfg.MemoryKiB,
		Iterations:  cfg.Iterations,
		SaltLength:  cfg.SaltLength,
		HashLength:  cfg.HashLength,
	})
}

func newIssuer(cfg config.SecurityConfig) (*auth.Issuer, error) {
	iss, err := auth.NewIssuer(auth.IssuerConfig{
		SigningKey:           []byte(cfg.JWT.Secret),
		Issuer:               cfg.JWT.Issuer,
		Audience:             cfg.JWT.Audience,
		AccessTokenTTL:       cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL:      cfg.Tokens.RefreshTokenTTL,
		VerificationTokenTTL: cfg.Tokens.VerificationTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}
	return iss, nil
}
