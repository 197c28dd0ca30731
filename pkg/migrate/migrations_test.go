package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/tableside-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestLifecycleMigrationsContainUniquenessContract(t *testing.T) {
	cases := map[string][]string{
		"create_sessions": {
			"CREATE TABLE IF NOT EXISTS sessions",
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_sessions_open_table ON sessions (table_id) WHERE status = 'open'",
			"DROP TABLE IF EXISTS sessions",
		},
		"create_orders": {
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_pending_session ON orders (session_id) WHERE status = 'pending'",
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_order_lines_order_product ON order_lines (order_id, product_id)",
			"CHECK (quantity > 0)",
		},
		"create_payments": {
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_pending_code ON payments (validation_code) WHERE status = 'pending'",
		},
		"create_invoices": {
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_order ON invoices (order_id)",
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_number ON invoices (number)",
		},
		"create_products": {
			"CONSTRAINT ck_products_stock_non_negative CHECK (stock >= 0)",
		},
	}
	for suffix, checks := range cases {
		content := readMigration(t, suffix)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", suffix, sub)
			}
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Kitchen Notes!")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_kitchen_notes.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}
