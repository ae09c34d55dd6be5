package repository

import (
	"fmt"

	"github.com/sudocode/controlplane/internal/common/config"
	"github.com/sudocode/controlplane/internal/db"
	"github.com/sudocode/controlplane/internal/db/dialect"
)

// Open selects sqlite or postgres per cfg.Driver and returns a Repository
// ready for use.
func Open(cfg config.DatabaseConfig) (Repository, error) {
	switch cfg.Driver {
	case "", "sqlite", dialect.SQLite3:
		rawDB, err := db.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return NewSQLStore(rawDB, dialect.SQLite3)
	case "postgres", dialect.PGX:
		rawDB, err := db.OpenPostgres(cfg.DSN(), cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return NewSQLStore(rawDB, dialect.PGX)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
