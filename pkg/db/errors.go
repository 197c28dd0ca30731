package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation raised
// by Postgres (pgx or lib/pq) or sqlite. When constraintName is provided a
// Postgres violation must reference that constraint or index. sqlite reports
// the violated columns instead of the index, so there the name cannot narrow
// the match and callers checking several indexes must tolerate that.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && (constraintName == "" || pgErr.ConstraintName == constraintName)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation && (constraintName == "" || pqErr.Constraint == constraintName)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true
	case strings.Contains(msg, "duplicate key value"):
		return constraintName == "" || strings.Contains(msg, `"`+constraintName+`"`)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// translated errors carry no constraint name
		return constraintName == ""
	}
	return false
}
