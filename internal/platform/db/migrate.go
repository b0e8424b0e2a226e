package db

import (
	"context"
	"embed"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func Migrate(ctx context.Context, db *sqlx.DB) error {
	if err := goose.SetDialect(driverName); err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	return goose.UpContext(ctx, db.DB, "migrations")
}
