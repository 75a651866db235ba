package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/store/storetest"
	"github.com/blockberries/tallyberry/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	}, WithLogger(logger))
	require.NoError(t, err)
	return s
}

func TestStoreCompatibility(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) })
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "nested", "ledger.db")
	ctx := context.Background()

	s, err := Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertProject(&types.Project{ID: "p1", Items: []types.Item{{Key: "k"}}})
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(ctx, func(r store.Reader) error {
		p, err := r.Project("p1")
		require.NoError(t, err)
		require.Equal(t, []types.ItemKey{"k"}, p.Keys())
		return nil
	}))
}

func TestOpenLogsReady(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s, err := Open(context.Background(), Config{DSN: filepath.Join(t.TempDir(), "x.db")}, WithLogger(logger))
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, hook.LastEntry())
	require.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	require.Equal(t, DriverSQLite, hook.LastEntry().Data["driver"])
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"", "sqlite", "SQLite3"} {
		d, err := dialectFor(name)
		require.NoError(t, err)
		require.Equal(t, DriverSQLite, d.name)
	}
	for _, name := range []string{"postgres", "postgresql", "pgx"} {
		d, err := dialectFor(name)
		require.NoError(t, err)
		require.Equal(t, DriverPostgres, d.name)
		require.Equal(t, "pgx", d.driverName)
	}
	_, err := dialectFor("oracle")
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	require.Equal(t, q, sqliteDialect.rebind(q))
	require.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2`, postgresDialect.rebind(q))
}

func TestSQLiteDSN(t *testing.T) {
	dir := t.TempDir()
	dsn, err := sqliteDSN(filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dsn, "file:"+filepath.Join(dir, "a.db")+"?"))
	require.Contains(t, dsn, "_txlock=immediate")
	require.Contains(t, dsn, "busy_timeout")
	require.Contains(t, dsn, "journal_mode")

	// explicit settings win
	dsn, err = sqliteDSN("file:" + filepath.Join(dir, "b.db") + "?_txlock=deferred&_pragma=busy_timeout(10)")
	require.NoError(t, err)
	require.Contains(t, dsn, "_txlock=deferred")
	require.NotContains(t, dsn, "5000")

	_, err = sqliteDSN("")
	require.Error(t, err)
}

func TestMapError(t *testing.T) {
	require.NoError(t, mapError(nil))
	require.ErrorIs(t, mapError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)), store.ErrConflict)
	require.ErrorIs(t, mapError(context.Canceled), store.ErrConflict)

	other := errors.New("disk on fire")
	require.Equal(t, other, mapError(other))
}
