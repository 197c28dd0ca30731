package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is the log-only view of a failed lifecycle call. It never reaches
// the public error envelope.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Reason     Reason `json:"reason,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`

	Chain []string `json:"chain,omitempty"`

	DB DBDump `json:"db,omitempty"`
}

// DBDump carries the driver details of the innermost database error, from
// postgres (pgx or lib/pq) or the sqlite test driver.
type DBDump struct {
	Code       string `json:"code,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Reason = te.Reason()
		d.Retryable = te.Retryable()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	d.DB = dbDump(err)
	return d
}

// LogFields flattens the dump into logger fields, leaving out empty driver
// details.
func (d ErrorDump) LogFields() map[string]any {
	fields := map[string]any{
		"error":        d.TopMessage,
		"error_code":   d.Code,
		"error_reason": string(d.Reason),
		"error_chain":  d.Chain,
	}
	for key, value := range map[string]string{
		"db_code":       d.DB.Code,
		"db_constraint": d.DB.Constraint,
		"db_table":      d.DB.Table,
		"db_detail":     d.DB.Detail,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}

func dbDump(err error) DBDump {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return DBDump{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return DBDump{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}

	// sqlite: "UNIQUE constraint failed: orders.session_id"
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		const prefix = "UNIQUE constraint failed: "
		idx := strings.Index(msg, prefix)
		if idx < 0 {
			continue
		}
		target := strings.SplitN(msg[idx+len(prefix):], ",", 2)[0]
		table, column, _ := strings.Cut(strings.TrimSpace(target), ".")
		return DBDump{Code: "23505", Table: table, Column: column, Message: msg}
	}
	return DBDump{}
}
