package core

import (
	"context"
	"fmt"

	"medipay/internal/config"
	"medipay/internal/infra/persistence/memory"
	"medipay/internal/infra/persistence/postgres"
	"medipay/internal/infra/persistence/sqlite"
)

// OpenPersistentStore selects a backend from configuration. An empty driver
// means sqlite.
func OpenPersistentStore(ctx context.Context, cfg config.StorageConfig, engine *RulesEngine) (PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.StorageSQLite
	}
	switch driver {
	case config.StorageMemory:
		return memory.NewStore(engine), nil
	case config.StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
