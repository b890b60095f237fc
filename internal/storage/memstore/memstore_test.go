package memstore_test

import (
	"testing"

	"github.com/finsentry/finsentry/internal/storage"
	"github.com/finsentry/finsentry/internal/storage/memstore"
	"github.com/finsentry/finsentry/internal/storage/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return memstore.New()
	})
}
