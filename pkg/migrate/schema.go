package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/db/models"
)

// partialIndexes mirror the uniqueness rules of the SQL migrations that gorm
// tags cannot express portably.
var partialIndexes = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_sessions_open_table ON sessions (table_id) WHERE status = 'open'",
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_pending_session ON orders (session_id) WHERE status = 'pending'",
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_pending_code ON payments (validation_code) WHERE status = 'pending'",
}

// Models lists every persisted model in dependency order.
func Models() []any {
	return []any{
		&models.Table{},
		&models.Client{},
		&models.Product{},
		&models.Session{},
		&models.Order{},
		&models.OrderLine{},
		&models.Payment{},
		&models.Invoice{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// EnsureSQLiteSchema builds the schema on an embedded sqlite database used
// for local runs and package tests.
func EnsureSQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	db := conn.WithContext(ctx)
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create partial index: %w", err)
		}
	}
	return nil
}
