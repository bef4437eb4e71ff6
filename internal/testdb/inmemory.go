// Package testdb builds throwaway in-memory SQLCipher stores for tests.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kuitang/notedly/internal/db"
)

// KeyHex is the fixed SQLCipher key used by every test database.
const KeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var dbCounter atomic.Uint64

// NewStoreInMemory creates a migrated in-memory encrypted store. Each call
// gets a private database even when name repeats.
func NewStoreInMemory(name string) (*db.DB, error) {
	if name == "" {
		name = "test"
	}
	name = strings.NewReplacer("/", "_", " ", "_", "?", "_", "#", "_").Replace(name)
	dsn := fmt.Sprintf("file:%s-%d?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_foreign_keys=on",
		name, dbCounter.Add(1), KeyHex)

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// One connection keeps the shared-cache database alive and serializes writers.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify in-memory database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	store := db.NewFromSQL(sqlDB)
	if err := store.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory schema: %w", err)
	}
	return store, nil
}

// MustNewStore is NewStoreInMemory for testing.TB callers; the store is closed on cleanup.
func MustNewStore(tb testing.TB) *db.DB {
	tb.Helper()
	s, err := NewStoreInMemory(tb.Name())
	if err != nil {
		tb.Fatalf("testdb: %v", err)
	}
	tb.Cleanup(func() { s.Close() })
	return s
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
