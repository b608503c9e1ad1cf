// Package storage opens the Ledger Store backend named in configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/config"
	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage/seal"
)

// Open returns the configured store:
//   - memory: volatile, for tests and demos
//   - file: in-memory with a sealed snapshot on every commit
//   - postgres: shared database, schema applied on open
func Open(ctx context.Context, cfg config.StorageConfig) (interfaces.LedgerStore, error) {
	sealer, err := sealerFor(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case "memory":
		return memory.NewMemoryLedgerStore(), nil
	case "file":
		store, err := memory.OpenFile(cfg.SnapshotPath, sealer)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger file %s: %w", cfg.SnapshotPath, err)
		}
		return store, nil
	case "postgres":
		db, err := postgres.Connect(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			QueryTimeout:    cfg.Postgres.QueryTimeout,
		})
		if err != nil {
			return nil, err
		}
		store := postgres.NewPostgresLedgerStore(db, sealer, cfg.Postgres.QueryTimeout)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func sealerFor(key string) (*seal.Sealer, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := seal.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return seal.New(raw)
}
