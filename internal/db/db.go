// Package db is the embedded SQLCipher implementation of store.Store.
//
// Users, notes and the favorited-by set live in one encrypted database file.
// The favorited-by set is a join table; favorite_count is recomputed from it
// inside the same transaction that changes it.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/kuitang/notedly/internal/store"
)

const (
	// MemoryPath opens a private in-memory database instead of a file.
	MemoryPath = ":memory:"

	// MaxOpenConns is the maximum number of open connections for a file database.
	// SQLite is single-writer, so high connection counts are counterproductive.
	MaxOpenConns = 10

	// MaxIdleConns is the maximum number of idle connections for a file database.
	MaxIdleConns = 2
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the sql.DB connection.
type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

// NewFromSQL wraps an existing sql.DB. The caller still owns schema setup via Migrate.
func NewFromSQL(sqlDB *sql.DB) *DB {
	return &DB{db: sqlDB}
}

// Open opens (creating if needed) an encrypted database at path, keyed with
// the 32-byte hex masterKey. The key is verified before returning.
func Open(path, masterKey string) (*DB, error) {
	key, err := hex.DecodeString(masterKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("master key must be 64 hex characters")
	}

	keyParams := fmt.Sprintf("_pragma_key=x'%s'&_pragma_cipher_page_size=4096", masterKey)

	var dsn string
	memory := path == MemoryPath
	if memory {
		name, err := store.NewID()
		if err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:notedly-%s?mode=memory&cache=shared&%s", name, keyParams)
		dsn = appendSQLiteParams(dsn, "_foreign_keys=on")
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = appendSQLiteParams(path+"?"+keyParams, sqliteCommonParams())
	}

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		// A shared-cache memory database disappears with its last connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(MaxOpenConns)
		sqlDB.SetMaxIdleConns(MaxIdleConns)
	}

	// Reading sqlite_master decrypts page 1, so a wrong key fails here
	// rather than on the first real query.
	var tables int
	if err := sqlDB.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&tables); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	return NewFromSQL(sqlDB), nil
}

// SQL returns the underlying sql.DB for direct access when needed.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Migrate creates the schema and applies idempotent migrations.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	for _, stmt := range strings.Split(Migrations, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the connection pool.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// =============================================================================
// Users
// =============================================================================

const userColumns = `id, username, email, avatar, password_hash, created_at, updated_at`

func (d *DB) CreateUser(ctx context.Context, u *store.User) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.Avatar, u.PasswordHash, toNanos(u.CreatedAt), toNanos(u.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create user: %w", store.ErrDuplicate)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (d *DB) GetUser(ctx context.Context, id string) (*store.User, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUserRow(row, "get user")
}

func (d *DB) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUserRow(row, "get user by username")
}

func (d *DB) FindUserByLogin(ctx context.Context, username, email string) (*store.User, error) {
	// Empty inputs never match: usernames are non-empty and normalize_email('') = ''.
	row := d.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = ? OR (? != '' AND email = normalize_email(?))
		ORDER BY username = ? DESC
		LIMIT 1
	`, username, email, email, username)
	return scanUserRow(row, "find user")
}

func (d *DB) ListUsers(ctx context.Context) ([]store.User, error) {
	users, err := d.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (d *DB) UsersByIDs(ctx context.Context, ids []string) ([]store.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	users, err := d.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("users by ids: %w", err)
	}
	return users, nil
}

func (d *DB) queryUsers(ctx context.Context, query string, args ...any) ([]store.User, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*store.User, error) {
	var u store.User
	var createdAt, updatedAt int64
	if err := s.Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &u.PasswordHash, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = fromNanos(createdAt)
	u.UpdatedAt = fromNanos(updatedAt)
	return &u, nil
}

func scanUserRow(row *sql.Row, op string) (*store.User, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// =============================================================================
// Notes
// =============================================================================

const noteColumns = `n.id, n.content, n.author_id, n.favorite_count, n.created_at, n.updated_at`

func (d *DB) CreateNote(ctx context.Context, n *store.Note) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO notes (id, content, author_id, favorite_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, n.ID, n.Content, n.AuthorID, toNanos(n.CreatedAt), toNanos(n.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create note: %w", store.ErrDuplicate)
		}
		return fmt.Errorf("create note: %w", err)
	}
	n.FavoriteCount = 0
	n.FavoritedBy = []string{}
	return nil
}

func (d *DB) GetNote(ctx context.Context, id string) (*store.Note, error) {
	return getNote(ctx, d.db, id)
}

func getNote(ctx context.Context, q querier, id string) (*store.Note, error) {
	notes, err := queryNotes(ctx, q, `SELECT `+noteColumns+` FROM notes n WHERE n.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("get note: %w", store.ErrNotFound)
	}
	return &notes[0], nil
}

func (d *DB) ListNotes(ctx context.Context, limit int) ([]store.Note, error) {
	notes, err := queryNotes(ctx, d.db, `SELECT `+noteColumns+` FROM notes n ORDER BY n.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

func (d *DB) NotesBefore(ctx context.Context, cursor string, limit int) ([]store.Note, error) {
	var (
		notes []store.Note
		err   error
	)
	if cursor == "" {
		notes, err = queryNotes(ctx, d.db, `SELECT `+noteColumns+` FROM notes n ORDER BY n.id DESC LIMIT ?`, limit)
	} else {
		notes, err = queryNotes(ctx, d.db, `SELECT `+noteColumns+` FROM notes n WHERE n.id < ? ORDER BY n.id DESC LIMIT ?`, cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("notes before %q: %w", cursor, err)
	}
	return notes, nil
}

func (d *DB) NotesByAuthor(ctx context.Context, authorID string, limit int) ([]store.Note, error) {
	notes, err := queryNotes(ctx, d.db, `
		SELECT `+noteColumns+` FROM notes n
		WHERE n.author_id = ?
		ORDER BY n.id DESC LIMIT ?
	`, authorID, limit)
	if err != nil {
		return nil, fmt.Errorf("notes by author: %w", err)
	}
	return notes, nil
}

func (d *DB) NotesFavoritedBy(ctx context.Context, userID string, limit int) ([]store.Note, error) {
	notes, err := queryNotes(ctx, d.db, `
		SELECT `+noteColumns+` FROM notes n
		JOIN note_favorites f ON f.note_id = n.id
		WHERE f.user_id = ?
		ORDER BY n.id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notes favorited by: %w", err)
	}
	return notes, nil
}

func (d *DB) UpdateNoteContent(ctx context.Context, id, content string, at time.Time) (*store.Note, error) {
	var updated *store.Note
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notes SET content = ?, updated_at = ? WHERE id = ?`, content, toNanos(at), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return store.ErrNotFound
		}
		updated, err = getNote(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	return updated, nil
}

func (d *DB) DeleteNote(ctx context.Context, id string) error {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM note_favorites WHERE note_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// ToggleFavorite flips membership in one write transaction: a delete that
// removes nothing means the user was absent, so the row is inserted instead.
// favorite_count is then recomputed from the set it mirrors.
func (d *DB) ToggleFavorite(ctx context.Context, noteID, userID string, at time.Time) (*store.Note, error) {
	var toggled *store.Note
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notes SET updated_at = ? WHERE id = ?`, toNanos(at), noteID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return store.ErrNotFound
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM note_favorites WHERE note_id = ? AND user_id = ?`, noteID, userID)
		if err != nil {
			return err
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if removed == 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO note_favorites (note_id, user_id, created_at) VALUES (?, ?, ?)
			`, noteID, userID, toNanos(at)); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE notes
			SET favorite_count = (SELECT COUNT(*) FROM note_favorites WHERE note_id = ?)
			WHERE id = ?
		`, noteID, noteID); err != nil {
			return err
		}

		toggled, err = getNote(ctx, tx, noteID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("toggle favorite: %w", err)
	}
	return toggled, nil
}

func queryNotes(ctx context.Context, q querier, query string, args ...any) ([]store.Note, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []store.Note
	for rows.Next() {
		var n store.Note
		var createdAt, updatedAt int64
		if err := rows.Scan(&n.ID, &n.Content, &n.AuthorID, &n.FavoriteCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.CreatedAt = fromNanos(createdAt)
		n.UpdatedAt = fromNanos(updatedAt)
		n.FavoritedBy = []string{}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := loadFavoritedBy(ctx, q, notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// loadFavoritedBy fills FavoritedBy for all notes with a single query.
func loadFavoritedBy(ctx context.Context, q querier, notes []store.Note) error {
	if len(notes) == 0 {
		return nil
	}

	index := make(map[string]int, len(notes))
	args := make([]any, len(notes))
	for i := range notes {
		index[notes[i].ID] = i
		args[i] = notes[i].ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(notes)), ",")

	rows, err := q.QueryContext(ctx, `
		SELECT note_id, user_id FROM note_favorites
		WHERE note_id IN (`+placeholders+`)
		ORDER BY rowid
	`, args...)
	if err != nil {
		return fmt.Errorf("load favorites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var noteID, userID string
		if err := rows.Scan(&noteID, &userID); err != nil {
			return fmt.Errorf("failed to scan favorite: %w", err)
		}
		if i, ok := index[noteID]; ok {
			notes[i].FavoritedBy = append(notes[i].FavoritedBy, userID)
		}
	}
	return rows.Err()
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func sqliteCommonParams() string {
	// WAL + NORMAL for throughput; _txlock=immediate takes the write lock at BEGIN
	// so read-then-write transactions cannot deadlock on lock upgrade.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
