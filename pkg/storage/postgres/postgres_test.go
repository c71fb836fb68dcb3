package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/storage/storagetest"
)

// Set DEVICEPULSE_TEST_DATABASE_URL to a disposable database to run these.
func testDSN(t *testing.T) string {
	dsn := os.Getenv("DEVICEPULSE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DEVICEPULSE_TEST_DATABASE_URL not set")
	}
	return dsn
}

func TestPostgresStorage_Contract(t *testing.T) {
	dsn := testDSN(t)

	storagetest.RunContract(t, func(t *testing.T) storage.Store {
		store, err := New(context.Background(), Config{DSN: dsn, MaxOpenConns: 4})
		require.NoError(t, err)
		_, err = store.db.Exec(`TRUNCATE collected_data RESTART IDENTITY`)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestNew_RequiresDSN(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
