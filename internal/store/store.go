// Package store defines the persistence contract shared by the SurrealDB and
// SQLCipher backends: the User and Note documents, the store interfaces, and
// the sentinel errors every backend maps its failures onto.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the addressed user or note does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique username or email is already taken.
	ErrDuplicate = errors.New("store: duplicate")
)

// User is an account document.
type User struct {
	ID           string
	Username     string
	Email        string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Note is a note document. FavoriteCount always equals len(FavoritedBy).
type Note struct {
	ID            string
	Content       string
	AuthorID      string
	FavoriteCount int
	FavoritedBy   []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsFavoritedBy reports whether userID is in the note's favorited-by set.
func (n *Note) IsFavoritedBy(userID string) bool {
	for _, id := range n.FavoritedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// FindUserByLogin matches on username or email; either may be empty.
	FindUserByLogin(ctx context.Context, username, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// UsersByIDs returns the users among ids that exist, in any order.
	UsersByIDs(ctx context.Context, ids []string) ([]User, error)
}

// NoteStore persists notes. Every list is ordered newest first.
type NoteStore interface {
	CreateNote(ctx context.Context, n *Note) error
	GetNote(ctx context.Context, id string) (*Note, error)
	ListNotes(ctx context.Context, limit int) ([]Note, error)
	// NotesBefore returns up to limit notes whose id sorts before cursor.
	// An empty cursor scopes over all notes.
	NotesBefore(ctx context.Context, cursor string, limit int) ([]Note, error)
	NotesByAuthor(ctx context.Context, authorID string, limit int) ([]Note, error)
	NotesFavoritedBy(ctx context.Context, userID string, limit int) ([]Note, error)
	UpdateNoteContent(ctx context.Context, id, content string, at time.Time) (*Note, error)
	DeleteNote(ctx context.Context, id string) error
	// ToggleFavorite adds userID to the note's favorited-by set when absent and
	// removes it when present, adjusting the count in the same atomic step.
	ToggleFavorite(ctx context.Context, noteID, userID string, at time.Time) (*Note, error)
}

// Store is a complete backend.
type Store interface {
	UserStore
	NoteStore
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// NewID returns a time-ordered identifier. Lexicographic order of the
// returned strings follows creation order within a process.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// ValidID reports whether s is a canonical identifier produced by NewID.
func ValidID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}

// NormalizeEmail is the canonical stored form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
