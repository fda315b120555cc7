// Package repository implements catalog access for tenants, files, chunks,
// and sync operations. Methods that participate in multi-row transactions
// accept a Queryer so they run against either the pool or an open tx.
package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Queryer is the sqlx surface shared by *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var (
	_ Queryer = (*sqlx.DB)(nil)
	_ Queryer = (*sqlx.Tx)(nil)
)
