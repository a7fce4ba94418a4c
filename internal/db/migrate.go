package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cartie/cartie/internal/config"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies ("up") or rolls back ("down") the embedded schema.
func Migrate(log *slog.Logger, cfg config.PostgresConfig, direction string) error {
	if log == nil {
		log = slog.Default()
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(cfg))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn("close migrate", slog.Any("source_error", srcErr), slog.Any("db_error", dbErr))
		}
	}()

	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "", "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("schema up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	version, dirty, _ := m.Version()
	log.Info("schema migrated", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

func migrateURL(cfg config.PostgresConfig) string {
	return "pgx5" + strings.TrimPrefix(cfg.DSN(), "postgres")
}
