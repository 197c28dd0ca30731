package migrate

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/tableside-backend/pkg/config"
	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
)

// MaybeRunDev prepares the lifecycle schema on boot. sqlite databases always
// get the gorm-derived schema; postgres runs goose up only in dev with
// TABLESIDE_AUTO_MIGRATE set, after the migrations directory validates.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg.FeatureFlags.UseSQLite {
		ctx = logg.WithField(ctx, "env", cfg.App.Env)
		logg.Info(ctx, "ensuring sqlite schema")
		return EnsureSQLiteSchema(ctx, client.DB())
	}
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	versions, err := listMigrations(DefaultDir)
	if err != nil {
		return fmt.Errorf("validating migrations: %w", err)
	}
	if len(versions) == 0 {
		return fmt.Errorf("no migrations found in %s", DefaultDir)
	}
	newest, err := versionNumber(versions[len(versions)-1])
	if err != nil {
		return err
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir, "target_version": newest})
	logg.Info(ctx, "running goose migrations (dev auto-run)")

	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	current, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	ctx = logg.WithField(ctx, "db_version", current)
	if current > newest {
		logg.Warn(ctx, "database is ahead of the local migrations")
		return nil
	}
	logg.Info(ctx, "goose migrations completed")
	return nil
}
