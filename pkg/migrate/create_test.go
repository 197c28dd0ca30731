package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateSQLMigrationStaysAfterNewestVersion(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	first, err := createSQLMigration(dir, "create_tips", clock)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := createSQLMigration(dir, "add_tip_to_payments", clock)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if filepath.Base(first) != "20261001090000_create_tips.sql" {
		t.Fatalf("unexpected first file %s", first)
	}
	if filepath.Base(second) != "20261001090001_add_tip_to_payments.sql" {
		t.Fatalf("unexpected second file %s", second)
	}

	behind, err := createSQLMigration(dir, "late", clock.Add(-time.Hour))
	if err != nil {
		t.Fatalf("create with clock behind: %v", err)
	}
	if filepath.Base(behind) != "20261001090002_late.sql" {
		t.Fatalf("unexpected file %s", behind)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migrations should validate: %v", err)
	}
}

func TestCreateSQLMigrationScaffoldsLifecycleTable(t *testing.T) {
	dir := t.TempDir()
	path, err := createSQLMigration(dir, "Create Tips", time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("createSQLMigration: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{"CREATE TABLE IF NOT EXISTS tips", "id uuid PRIMARY KEY", "DROP TABLE IF EXISTS tips"} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("scaffold missing %q:\n%s", want, b)
		}
	}
}

func TestValidateDirRejectsUndroppedObjects(t *testing.T) {
	cases := map[string]string{
		"table": "-- +goose Up\nCREATE TABLE IF NOT EXISTS tips (id uuid);\n-- +goose Down\nSELECT 1;\n",
		"type":  "-- +goose Up\nCREATE TYPE tip_kind AS ENUM ('cash');\n-- +goose Down\nDROP TABLE IF EXISTS tips;\n",
		"order": "-- +goose Down\nDROP TABLE tips;\n-- +goose Up\nCREATE TABLE tips (id uuid);\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "20261019000000_tips.sql"), []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := ValidateDir(dir); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
