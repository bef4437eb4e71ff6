// Package surreal is the SurrealDB backend for store.Store.
//
// Users and notes live in the user and note tables. Each record's id is
// type::thing(table, key) where key is the UUIDv7 string from store.NewID,
// and the key is also stored as a plain field so range scans and ORDER BY
// work on it directly. Favorites are kept inline on the note as an array of
// user keys next to a favorite_count counter.
package surreal

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/kuitang/notedly/internal/obs"
	"github.com/kuitang/notedly/internal/store"
)

const (
	userTable = "user"
	noteTable = "note"

	// conflictRetries bounds retries of a write that lost an optimistic
	// transaction race against a concurrent writer on the same record.
	conflictRetries = 16
)

// Schema defines the tables and indexes. Every statement is idempotent.
const Schema = `
DEFINE TABLE IF NOT EXISTS user SCHEMALESS;
DEFINE INDEX IF NOT EXISTS user_key ON TABLE user COLUMNS key UNIQUE;
DEFINE INDEX IF NOT EXISTS user_username ON TABLE user COLUMNS username UNIQUE;
DEFINE INDEX IF NOT EXISTS user_email ON TABLE user COLUMNS email UNIQUE;
DEFINE TABLE IF NOT EXISTS note SCHEMALESS;
DEFINE INDEX IF NOT EXISTS note_key ON TABLE note COLUMNS key UNIQUE;
DEFINE INDEX IF NOT EXISTS note_author ON TABLE note COLUMNS author;
DEFINE INDEX IF NOT EXISTS note_favorited_by ON TABLE note COLUMNS favorited_by;
`

// Options configures a connection.
type Options struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Store implements store.Store on SurrealDB.
type Store struct {
	db *surrealdb.DB
}

var _ store.Store = (*Store)(nil)

type userDoc struct {
	ID           *models.RecordID      `json:"id,omitempty"`
	Key          string                `json:"key"`
	Username     string                `json:"username"`
	Email        string                `json:"email"`
	Avatar       string                `json:"avatar"`
	PasswordHash string                `json:"password_hash"`
	CreatedAt    models.CustomDateTime `json:"created_at"`
	UpdatedAt    models.CustomDateTime `json:"updated_at"`
}

type noteDoc struct {
	ID            *models.RecordID      `json:"id,omitempty"`
	Key           string                `json:"key"`
	Content       string                `json:"content"`
	Author        string                `json:"author"`
	FavoriteCount int                   `json:"favorite_count"`
	FavoritedBy   []string              `json:"favorited_by"`
	CreatedAt     models.CustomDateTime `json:"created_at"`
	UpdatedAt     models.CustomDateTime `json:"updated_at"`
}

func (d *userDoc) toUser() store.User {
	return store.User{
		ID:           d.Key,
		Username:     d.Username,
		Email:        d.Email,
		Avatar:       d.Avatar,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt.Time.UTC(),
		UpdatedAt:    d.UpdatedAt.Time.UTC(),
	}
}

func (d *noteDoc) toNote() store.Note {
	favoritedBy := d.FavoritedBy
	if favoritedBy == nil {
		favoritedBy = []string{}
	}
	return store.Note{
		ID:            d.Key,
		Content:       d.Content,
		AuthorID:      d.Author,
		FavoriteCount: d.FavoriteCount,
		FavoritedBy:   favoritedBy,
		CreatedAt:     d.CreatedAt.Time.UTC(),
		UpdatedAt:     d.UpdatedAt.Time.UTC(),
	}
}

func dateTime(t time.Time) models.CustomDateTime {
	return models.CustomDateTime{Time: t.UTC()}
}

// Open connects, signs in when credentials are given, and selects the
// namespace and database.
func Open(ctx context.Context, opts Options) (*Store, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if opts.Username != "" && opts.Password != "" {
		if _, err := db.SignIn(ctx, &surrealdb.Auth{
			Username: opts.Username,
			Password: opts.Password,
		}); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, opts.Namespace, opts.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}

	obs.Pkg("store.surreal").Info("surrealdb_connected",
		"url", opts.URL, "namespace", opts.Namespace, "database", opts.Database)
	return &Store{db: db}, nil
}

// Migrate defines tables and unique indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, s.db, Schema, nil); err != nil {
		return fmt.Errorf("failed to define schema: %w", err)
	}
	return nil
}

// Ping runs a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[bool](ctx, s.db, "RETURN true", nil); err != nil {
		return fmt.Errorf("surrealdb ping: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

// query runs a single statement and returns its result rows.
func query[T any](ctx context.Context, s *Store, sql string, vars map[string]any) ([]T, error) {
	res, err := surrealdb.Query[[]T](ctx, s.db, sql, vars)
	if err != nil {
		return nil, mapError(err)
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	return (*res)[0].Result, nil
}

// mapError translates SurrealDB failures onto store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "already contains"), strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %s", store.ErrDuplicate, msg)
	case strings.Contains(msg, "Expected a single or multiple results but got 0"):
		return store.ErrNotFound
	}
	return err
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflict") || strings.Contains(msg, "can be retried")
}

// withRetry reruns fn while it fails with a transaction conflict.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt < conflictRetries; attempt++ {
		out, err = fn()
		if !isConflict(err) {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(time.Duration(attempt+1)*5*time.Millisecond + time.Duration(rand.IntN(5000))*time.Microsecond):
		}
	}
	return out, err
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	doc := userDoc{
		Key:          u.ID,
		Username:     u.Username,
		Email:        store.NormalizeEmail(u.Email),
		Avatar:       u.Avatar,
		PasswordHash: u.PasswordHash,
		CreatedAt:    dateTime(u.CreatedAt),
		UpdatedAt:    dateTime(u.UpdatedAt),
	}
	_, err := query[userDoc](ctx, s, `CREATE type::thing($tb, $key) CONTENT $doc`, map[string]any{
		"tb":  userTable,
		"key": u.ID,
		"doc": doc,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) oneUser(ctx context.Context, sql string, vars map[string]any) (*store.User, error) {
	docs, err := query[userDoc](ctx, s, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	u := docs[0].toUser()
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.oneUser(ctx, `SELECT * FROM user WHERE key = $key LIMIT 1`, map[string]any{"key": id})
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.oneUser(ctx, `SELECT * FROM user WHERE username = $username LIMIT 1`,
		map[string]any{"username": username})
}

func (s *Store) FindUserByLogin(ctx context.Context, username, email string) (*store.User, error) {
	email = store.NormalizeEmail(email)
	if username == "" && email == "" {
		return nil, store.ErrNotFound
	}
	if username != "" {
		u, err := s.GetUserByUsername(ctx, username)
		if !errors.Is(err, store.ErrNotFound) {
			return u, err
		}
	}
	if email == "" {
		return nil, store.ErrNotFound
	}
	return s.oneUser(ctx, `SELECT * FROM user WHERE email = $email LIMIT 1`, map[string]any{"email": email})
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	docs, err := query[userDoc](ctx, s, `SELECT * FROM user ORDER BY key ASC`, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]store.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toUser())
	}
	return users, nil
}

func (s *Store) UsersByIDs(ctx context.Context, ids []string) ([]store.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := query[userDoc](ctx, s, `SELECT * FROM user WHERE key INSIDE $keys`, map[string]any{"keys": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to get users by ids: %w", err)
	}
	users := make([]store.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toUser())
	}
	return users, nil
}

func (s *Store) CreateNote(ctx context.Context, n *store.Note) error {
	doc := noteDoc{
		Key:         n.ID,
		Content:     n.Content,
		Author:      n.AuthorID,
		FavoritedBy: []string{},
		CreatedAt:   dateTime(n.CreatedAt),
		UpdatedAt:   dateTime(n.UpdatedAt),
	}
	_, err := query[noteDoc](ctx, s, `CREATE type::thing($tb, $key) CONTENT $doc`, map[string]any{
		"tb":  noteTable,
		"key": n.ID,
		"doc": doc,
	})
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	n.FavoriteCount = 0
	n.FavoritedBy = []string{}
	return nil
}

func (s *Store) oneNote(ctx context.Context, sql string, vars map[string]any) (*store.Note, error) {
	docs, err := query[noteDoc](ctx, s, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	n := docs[0].toNote()
	return &n, nil
}

func (s *Store) notes(ctx context.Context, sql string, vars map[string]any) ([]store.Note, error) {
	docs, err := query[noteDoc](ctx, s, sql, vars)
	if err != nil {
		return nil, err
	}
	out := make([]store.Note, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toNote())
	}
	return out, nil
}

func (s *Store) GetNote(ctx context.Context, id string) (*store.Note, error) {
	return s.oneNote(ctx, `SELECT * FROM note WHERE key = $key LIMIT 1`, map[string]any{"key": id})
}

// ListNotes formats limit into the statement; it is always a caller int.
func (s *Store) ListNotes(ctx context.Context, limit int) ([]store.Note, error) {
	return s.notes(ctx, fmt.Sprintf(`SELECT * FROM note ORDER BY key DESC LIMIT %d`, limit), nil)
}

func (s *Store) NotesBefore(ctx context.Context, cursor string, limit int) ([]store.Note, error) {
	if cursor == "" {
		return s.ListNotes(ctx, limit)
	}
	return s.notes(ctx, fmt.Sprintf(`SELECT * FROM note WHERE key < $cursor ORDER BY key DESC LIMIT %d`, limit),
		map[string]any{"cursor": cursor})
}

func (s *Store) NotesByAuthor(ctx context.Context, authorID string, limit int) ([]store.Note, error) {
	return s.notes(ctx, fmt.Sprintf(`SELECT * FROM note WHERE author = $author ORDER BY key DESC LIMIT %d`, limit),
		map[string]any{"author": authorID})
}

func (s *Store) NotesFavoritedBy(ctx context.Context, userID string, limit int) ([]store.Note, error) {
	return s.notes(ctx, fmt.Sprintf(`SELECT * FROM note WHERE favorited_by CONTAINS $user ORDER BY key DESC LIMIT %d`, limit),
		map[string]any{"user": userID})
}

func (s *Store) UpdateNoteContent(ctx context.Context, id, content string, at time.Time) (*store.Note, error) {
	return withRetry(ctx, func() (*store.Note, error) {
		return s.oneNote(ctx, `UPDATE note SET content = $content, updated_at = $at WHERE key = $key RETURN AFTER`,
			map[string]any{"key": id, "content": content, "at": dateTime(at)})
	})
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	_, err := withRetry(ctx, func() (*store.Note, error) {
		return s.oneNote(ctx, `DELETE note WHERE key = $key RETURN BEFORE`, map[string]any{"key": id})
	})
	return err
}

// toggleFavorite flips membership and moves the counter in one statement.
// The count assignment comes first so it reads the set before it changes.
const toggleFavorite = `
UPDATE note SET
    favorite_count = IF favorited_by CONTAINS $user THEN favorite_count - 1 ELSE favorite_count + 1 END,
    favorited_by = IF favorited_by CONTAINS $user
        THEN array::complement(favorited_by, [$user])
        ELSE array::append(favorited_by, $user)
    END,
    updated_at = $at
WHERE key = $key
RETURN AFTER`

func (s *Store) ToggleFavorite(ctx context.Context, noteID, userID string, at time.Time) (*store.Note, error) {
	return withRetry(ctx, func() (*store.Note, error) {
		return s.oneNote(ctx, toggleFavorite, map[string]any{
			"key":  noteID,
			"user": userID,
			"at":   dateTime(at),
		})
	})
}
