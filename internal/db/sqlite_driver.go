package db

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/kuitang/notedly/internal/store"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver with custom SQL functions.
	SQLiteDriverName = "sqlite3_notedly"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("normalize_email", sqliteNormalizeEmail, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register normalize_email SQL function: %w", err)
			}
			return nil
		},
	})
}

// sqliteNormalizeEmail lets login lookups compare against the stored form
// without the caller normalizing first.
func sqliteNormalizeEmail(input any) (string, error) {
	switch x := input.(type) {
	case nil:
		return "", nil
	case string:
		return store.NormalizeEmail(x), nil
	case []byte:
		return store.NormalizeEmail(string(x)), nil
	default:
		return "", fmt.Errorf("unsupported normalize_email input type: %T", input)
	}
}
