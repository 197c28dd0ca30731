package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unrelated", err: errors.New("connection reset"), want: false},
		{name: "pgx any", err: &pgconn.PgError{Code: "23505", ConstraintName: "ux_invoices_order"}, want: true},
		{name: "pgx matching", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_invoices_order"}), constraint: "ux_invoices_order", want: true},
		{name: "pgx other constraint", err: &pgconn.PgError{Code: "23505", ConstraintName: "ux_invoices_number"}, constraint: "ux_invoices_order", want: false},
		{name: "pgx fk", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "pq matching", err: &pq.Error{Code: "23505", Constraint: "ux_sessions_open_table"}, constraint: "ux_sessions_open_table", want: true},
		{name: "gorm translated any", err: gorm.ErrDuplicatedKey, want: true},
		{name: "gorm translated named", err: gorm.ErrDuplicatedKey, constraint: "ux_orders_pending_session", want: false},
		{name: "pq other constraint", err: &pq.Error{Code: "23505", Constraint: "ux_invoices_number"}, constraint: "ux_invoices_order", want: false},
		{name: "sqlite message", err: errors.New("UNIQUE constraint failed: invoices.order_id"), constraint: "ux_invoices_order", want: true},
		{name: "postgres text other constraint", err: errors.New(`duplicate key value violates unique constraint "ux_a"`), constraint: "ux_b", want: false},
		{name: "postgres text matching", err: errors.New(`duplicate key value violates unique constraint "ux_invoices_number"`), constraint: "ux_invoices_number", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Fatalf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
