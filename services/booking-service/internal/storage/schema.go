package storage

import (
	"context"
	_ "embed"

	"github.com/md-rashed-zaman/apptbook/libs/db"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies the idempotent schema. Statements without arguments run over
// the simple protocol, so the whole file goes in one round trip.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
