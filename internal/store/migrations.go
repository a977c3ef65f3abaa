package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyperengineering/oracle/migrations"
	"github.com/pressly/goose/v3"
)

// gooseLogger sends goose's progress lines to slog at debug level.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "store")
}

func (gooseLogger) Fatalf(format string, v ...any) {
	slog.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "store")
}

// RunMigrations applies every pending migration embedded in the migrations
// package and returns the resulting schema version.
func RunMigrations(db *sql.DB) (int64, error) {
	goose.SetLogger(gooseLogger{})
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return 0, fmt.Errorf("run migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	slog.Debug("database schema ready", "component", "store", "schema_version", version)

	return version, nil
}
