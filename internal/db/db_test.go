package db_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/notedly/internal/db"
	"github.com/kuitang/notedly/internal/store"
	"github.com/kuitang/notedly/internal/store/storetest"
	"github.com/kuitang/notedly/internal/testdb"
)

func TestInMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return testdb.MustNewStore(t)
	})
}

func TestFileStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := db.Open(filepath.Join(t.TempDir(), "notedly.db"), testdb.KeyHex)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestOpen_WrongKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notedly.db")

	s, err := db.Open(path, testdb.KeyHex)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	storetest.NewUser(t, s)
	require.NoError(t, s.Close())

	_, err = db.Open(path, strings.Repeat("ff", 32))
	require.Error(t, err)
}

func TestOpen_RejectsMalformedKey(t *testing.T) {
	_, err := db.Open(db.MemoryPath, "not-hex")
	require.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s, err := db.Open(db.MemoryPath, testdb.KeyHex)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
}

func TestNormalizeEmailSQLFunction(t *testing.T) {
	s := testdb.MustNewStore(t)

	var got string
	err := s.SQL().QueryRow(`SELECT normalize_email(?)`, "  Ada@Example.COM ").Scan(&got)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", got)
}
