package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	nameSanitizeRe  = regexp.MustCompile(`[^a-z0-9_]+`)
	createTableName = regexp.MustCompile(`^create_([a-z][a-z0-9_]*)$`)
)

// CreateSQLMigration creates a goose SQL migration file:
//
//	<dir>/<YYYYMMDDHHMMSS>_<name>.sql
//
// A create_<table> name is scaffolded with the id and timestamp columns every
// lifecycle table carries.
func CreateSQLMigration(dir string, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now())
}

func createSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	if name == "" {
		return "", fmt.Errorf("name is required")
	}

	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	existing, err := listMigrations(dir)
	if err != nil {
		return "", err
	}
	version, err := nextVersion(existing, now)
	if err != nil {
		return "", err
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version, safe))
	if err := os.WriteFile(fullpath, []byte(migrationTemplate(safe)), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}

	return fullpath, nil
}

// nextVersion keeps versions strictly increasing even when the clock is
// behind the newest file or two migrations are created in the same second.
func nextVersion(existing []string, now time.Time) (string, error) {
	candidate := now.UTC().Format(versionLayout)
	if len(existing) == 0 || candidate > existing[len(existing)-1] {
		return candidate, nil
	}
	newest, err := time.Parse(versionLayout, existing[len(existing)-1])
	if err != nil {
		return "", fmt.Errorf("parse newest version %s: %w", existing[len(existing)-1], err)
	}
	return newest.Add(time.Second).Format(versionLayout), nil
}

func migrationTemplate(safe string) string {
	if m := createTableName.FindStringSubmatch(safe); m != nil {
		table := m[1]
		return fmt.Sprintf(`-- +goose Up
-- +goose StatementBegin
CREATE TABLE IF NOT EXISTS %[1]s (
    id uuid PRIMARY KEY,
    created_at timestamptz NOT NULL DEFAULT now(),
    updated_at timestamptz NOT NULL DEFAULT now()
);
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
DROP TABLE IF EXISTS %[1]s;
-- +goose StatementEnd
`, table)
	}
	return fmt.Sprintf(`-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`, safe)
}

// versionNumber is the goose version for a YYYYMMDDHHMMSS string.
func versionNumber(version string) (int64, error) {
	return strconv.ParseInt(version, 10, 64)
}
