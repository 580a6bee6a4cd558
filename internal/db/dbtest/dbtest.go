// Package dbtest opens throwaway in-memory SQLite stores for tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/db"
)

var seq atomic.Int64

// Open returns a migrated repository backed by a private in-memory database
// that is closed when the test ends.
func Open(t testing.TB) (*db.Repository, *db.DB) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	ctx := context.Background()
	store, err := db.Open(ctx, db.Config{Driver: db.DriverSQLite, DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Migrate(ctx)
	require.NoError(t, err)

	return db.NewRepository(store, zap.NewNop()), store
}
