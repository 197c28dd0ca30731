package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

	createTableRe = regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?([a-z_][a-z0-9_]*)`)
	createTypeRe  = regexp.MustCompile(`(?i)CREATE TYPE ([a-z_][a-z0-9_]*)`)
	dropTableRe   = regexp.MustCompile(`(?i)DROP TABLE (?:IF EXISTS )?([a-z_][a-z0-9_]*)`)
	dropTypeRe    = regexp.MustCompile(`(?i)DROP TYPE (?:IF EXISTS )?([a-z_][a-z0-9_]*)`)
)

// ValidateDir checks migration filenames and goose headers, and that every
// table or enum type an Up section creates is dropped by its Down section.
func ValidateDir(dir string) error {
	_, err := listMigrations(dir)
	return err
}

// listMigrations validates dir and returns its versions in ascending order.
func listMigrations(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{}
	versions := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}

		version := m[1]
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		seen[version] = name
		versions = append(versions, version)

		full := filepath.Join(dir, name)
		b, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", full, err)
		}
		if err := validateSections(name, string(b)); err != nil {
			return nil, err
		}
	}

	sort.Strings(versions)
	return versions, nil
}

func validateSections(name, txt string) error {
	upIdx := strings.Index(txt, "-- +goose Up")
	if upIdx < 0 {
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	}
	downIdx := strings.Index(txt, "-- +goose Down")
	if downIdx < 0 {
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	}
	if downIdx < upIdx {
		return fmt.Errorf("migration %q has Down before Up", name)
	}
	up, down := txt[upIdx:downIdx], txt[downIdx:]

	checks := []struct {
		kind         string
		create, drop *regexp.Regexp
	}{
		{"table", createTableRe, dropTableRe},
		{"type", createTypeRe, dropTypeRe},
	}
	for _, c := range checks {
		dropped := map[string]bool{}
		for _, m := range c.drop.FindAllStringSubmatch(down, -1) {
			dropped[strings.ToLower(m[1])] = true
		}
		for _, m := range c.create.FindAllStringSubmatch(up, -1) {
			if !dropped[strings.ToLower(m[1])] {
				return fmt.Errorf("migration %q creates %s %s but its Down section does not drop it", name, c.kind, m[1])
			}
		}
	}
	return nil
}
