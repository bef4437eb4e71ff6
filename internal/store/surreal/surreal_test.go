package surreal_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/notedly/internal/store"
	"github.com/kuitang/notedly/internal/store/storetest"
	"github.com/kuitang/notedly/internal/store/surreal"
)

var dbSeq atomic.Uint64

// openTestStore connects to SURREALDB_URL and returns a store on a fresh
// database. Tests skip when no server is configured.
func openTestStore(t *testing.T) store.Store {
	t.Helper()
	url := os.Getenv("SURREALDB_URL")
	if url == "" {
		t.Skip("SURREALDB_URL not set")
	}
	user := os.Getenv("SURREALDB_USER")
	if user == "" {
		user = "root"
	}
	pass := os.Getenv("SURREALDB_PASS")
	if pass == "" {
		pass = "root"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := surreal.Open(ctx, surreal.Options{
		URL:       url,
		Namespace: "notedly_test",
		Database:  fmt.Sprintf("t%d_%d", time.Now().UnixNano(), dbSeq.Add(1)),
		Username:  user,
		Password:  pass,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestSurrealStoreConformance(t *testing.T) {
	storetest.Run(t, openTestStore)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
}
