package store

import (
	"context"
	"fmt"

	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/logger"
)

// Open builds the store selected by cfg.Driver. If the SQLite database cannot be
// opened the in-memory store is used instead, so the service keeps answering.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("store.database_url is required for the postgres driver")
		}
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case config.DriverMemory:
		logger.L.Info("using in-memory conversation store")
		return NewMemory(), nil
	case config.DriverSQLite, "":
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			logger.L.Warn("sqlite open failed; using in-memory store", "path", cfg.Path, "error", err)
			return NewMemory(), nil
		}
		logger.L.Info("sqlite conversation store initialized", "path", cfg.Path)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
