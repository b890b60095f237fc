package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/finsentry/finsentry/internal/storage"
	"github.com/finsentry/finsentry/internal/storage/sqlstore"
	"github.com/finsentry/finsentry/internal/storage/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		dsn := filepath.Join(t.TempDir(), "store.db")
		s, err := sqlstore.Open(context.Background(), "sqlite3", dsn)
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		return s
	})
}
