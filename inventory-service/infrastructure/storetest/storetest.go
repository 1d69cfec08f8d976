// Package storetest provides SQLite-backed inventory stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/infrastructure"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// Open creates a fresh SQLite database with the inventory schema. It is
// closed when the test ends.
func Open(t testing.TB) (*infrastructure.SQLInventoryStore, *sqlx.DB) {
	t.Helper()

	ctx := context.Background()
	db, err := infrastructure.OpenDatabase(ctx, infrastructure.DatabaseOptions{
		Driver: infrastructure.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "inventory.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, infrastructure.EnsureSchema(ctx, db))
	return infrastructure.NewSQLInventoryStore(db), db
}

// SeedItem inserts an item and returns it with its ID set.
func SeedItem(t testing.TB, store domain.Store, item domain.Item) domain.Item {
	t.Helper()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	require.NoError(t, tx.InsertItem(ctx, &item))
	require.NoError(t, tx.Commit())
	return item
}

// Flight returns a flight item between two cities departing at startsAt.
func Flight(from, to string, startsAt time.Time, seats int) domain.Item {
	return domain.Item{
		Kind:        "flight",
		Origin:      from,
		Destination: to,
		StartsAt:    startsAt,
		Amount:      seats,
	}
}

// Hotel returns a hotel's room pool for stays checking in on day.
func Hotel(city, name string, day time.Time, rooms int) domain.Item {
	return domain.Item{
		Kind:        "hotel",
		Origin:      city,
		Destination: name,
		StartsAt:    day,
		Amount:      rooms,
	}
}

// ReservationCount returns how many reservations the database holds.
func ReservationCount(t testing.TB, db *sqlx.DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM reservations`))
	return n
}
