// Package engine selects and constructs the record store backend.
//
// The store is built exactly once at process start from configuration and
// injected into every component that needs persistence; switching engines
// requires a restart, so nothing downstream ever handles a changing backend.
package engine

import (
	"context"
	"fmt"

	"github.com/finsentry/finsentry/internal/config"
	"github.com/finsentry/finsentry/internal/storage"
	"github.com/finsentry/finsentry/internal/storage/dynamo"
	"github.com/finsentry/finsentry/internal/storage/memstore"
	"github.com/finsentry/finsentry/internal/storage/sqlstore"
)

// Open builds the store selected by cfg.Mode.
func Open(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Mode {
	case config.ModeLocal:
		return sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
	case config.ModeRemote:
		return dynamo.Open(ctx, cfg.Region, cfg.Endpoint, dynamo.Tables{
			Users:         cfg.UsersTable,
			Accounts:      cfg.AccountsTable,
			Transactions:  cfg.TransactionsTable,
			Notifications: cfg.NotificationsTable,
		})
	case config.ModeMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}
