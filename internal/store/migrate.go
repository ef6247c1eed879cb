package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embeddedMigrations embed.FS

// runMigrations applies the schema migrations for the given goose dialect
// ("sqlite3" or "postgres") from the embedded migration files.
func runMigrations(db *sql.DB, dialect, dir string, logger zerolog.Logger) error {
	goose.SetBaseFS(embeddedMigrations)
	goose.SetLogger(gooseAdapter{logger: logger})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// gooseAdapter routes goose output through zerolog.
type gooseAdapter struct {
	logger zerolog.Logger
}

func (g gooseAdapter) Printf(format string, v ...any) {
	g.logger.Debug().Msgf(format, v...)
}

func (g gooseAdapter) Fatalf(format string, v ...any) {
	g.logger.Fatal().Msgf(format, v...)
}
