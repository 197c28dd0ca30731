// Package testdb opens throwaway sqlite databases carrying the full
// lifecycle schema for package tests.
package testdb

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/migrate"
)

// New returns a migrated in-memory database unique to the calling test.
func New(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:tableside_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.EnsureSQLiteSchema(context.Background(), conn); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Client wraps conn in the transaction-capable db client.
func Client(conn *gorm.DB) *db.Client {
	return db.FromGorm(conn)
}

// SeedTable inserts an active table with the given code.
func SeedTable(t testing.TB, conn *gorm.DB, code string) models.Table {
	t.Helper()
	table := models.Table{Code: code, DisplayName: "Table " + code, Capacity: 4, IsActive: true}
	if err := conn.Create(&table).Error; err != nil {
		t.Fatalf("seed table: %v", err)
	}
	return table
}

// SeedProduct inserts an available product.
func SeedProduct(t testing.TB, conn *gorm.DB, name string, priceCents, stock int) models.Product {
	t.Helper()
	product := models.Product{Name: name, PriceCents: priceCents, Stock: stock, IsAvailable: true}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// ProductStock reads the current stock of a product.
func ProductStock(t testing.TB, conn *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := conn.First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.Stock
}
