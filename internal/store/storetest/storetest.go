// Package storetest is a conformance suite run against every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/notedly/internal/store"
)

// Opener returns an empty, migrated store. Run calls it once per subtest.
type Opener func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, open Opener) {
	t.Run("CreateAndGetUser", func(t *testing.T) { testCreateAndGetUser(t, open(t)) })
	t.Run("DuplicateUser", func(t *testing.T) { testDuplicateUser(t, open(t)) })
	t.Run("FindUserByLogin", func(t *testing.T) { testFindUserByLogin(t, open(t)) })
	t.Run("UsersByIDs", func(t *testing.T) { testUsersByIDs(t, open(t)) })
	t.Run("NoteCRUD", func(t *testing.T) { testNoteCRUD(t, open(t)) })
	t.Run("NotesBeforeOrdering", func(t *testing.T) { testNotesBeforeOrdering(t, open(t)) })
	t.Run("ToggleFavorite", func(t *testing.T) { testToggleFavorite(t, open(t)) })
	t.Run("ToggleFavoriteMissingNote", func(t *testing.T) { testToggleFavoriteMissingNote(t, open(t)) })
	t.Run("ConcurrentToggles", func(t *testing.T) { testConcurrentToggles(t, open(t)) })
	t.Run("ConcurrentTogglesSameUser", func(t *testing.T) { testConcurrentTogglesSameUser(t, open(t)) })
	t.Run("DeleteNote", func(t *testing.T) { testDeleteNote(t, open(t)) })
}

var userSeq sync.Mutex
var userN int

// NewUser inserts a user with unique username and email.
func NewUser(t *testing.T, s store.Store) *store.User {
	t.Helper()
	userSeq.Lock()
	userN++
	n := userN
	userSeq.Unlock()

	id, err := store.NewID()
	require.NoError(t, err)
	now := time.Now().UTC()
	u := &store.User{
		ID:           id,
		Username:     fmt.Sprintf("user%d", n),
		Email:        fmt.Sprintf("user%d@example.com", n),
		Avatar:       "https://www.gravatar.com/avatar/x.jpg?d=identicon",
		PasswordHash: "$fake$pw",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

// NewNote inserts a note authored by authorID.
func NewNote(t *testing.T, s store.Store, authorID, content string) *store.Note {
	t.Helper()
	id, err := store.NewID()
	require.NoError(t, err)
	now := time.Now().UTC()
	n := &store.Note{ID: id, Content: content, AuthorID: authorID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateNote(context.Background(), n))
	return n
}

func testCreateAndGetUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Username, got.Username)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)
	assert.WithinDuration(t, u.CreatedAt, got.CreatedAt, time.Millisecond)

	byName, err := s.GetUserByUsername(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	_, err = s.GetUser(ctx, "0190d0a0-0000-7000-8000-000000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	other := NewUser(t, s)
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.ElementsMatch(t, []string{u.ID, other.ID}, []string{users[0].ID, users[1].ID})
}

func testDuplicateUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)

	sameName := *u
	sameName.ID, _ = store.NewID()
	sameName.Email = "different@example.com"
	assert.ErrorIs(t, s.CreateUser(ctx, &sameName), store.ErrDuplicate)

	sameEmail := *u
	sameEmail.ID, _ = store.NewID()
	sameEmail.Username = "different"
	assert.ErrorIs(t, s.CreateUser(ctx, &sameEmail), store.ErrDuplicate)
}

func testFindUserByLogin(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)

	got, err := s.FindUserByLogin(ctx, u.Username, "")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.FindUserByLogin(ctx, "", "  "+u.Email+" ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.FindUserByLogin(ctx, "", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindUserByLogin(ctx, "ghost", "ghost@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUsersByIDs(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewUser(t, s)
	b := NewUser(t, s)
	NewUser(t, s)

	got, err := s.UsersByIDs(ctx, []string{b.ID, "0190d0a0-0000-7000-8000-000000000000", a.ID})
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, u := range got {
		ids[i] = u.ID
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	none, err := s.UsersByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testNoteCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	author := NewUser(t, s)
	n := NewNote(t, s, author.ID, "first draft")

	got, err := s.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "first draft", got.Content)
	assert.Equal(t, author.ID, got.AuthorID)
	assert.Zero(t, got.FavoriteCount)
	assert.Empty(t, got.FavoritedBy)

	later := n.UpdatedAt.Add(time.Minute)
	updated, err := s.UpdateNoteContent(ctx, n.ID, "second draft", later)
	require.NoError(t, err)
	assert.Equal(t, "second draft", updated.Content)
	assert.WithinDuration(t, later, updated.UpdatedAt, time.Millisecond)
	assert.WithinDuration(t, n.CreatedAt, updated.CreatedAt, time.Millisecond)

	_, err = s.UpdateNoteContent(ctx, "0190d0a0-0000-7000-8000-000000000000", "x", later)
	assert.ErrorIs(t, err, store.ErrNotFound)

	NewNote(t, s, NewUser(t, s).ID, "someone else")
	mine, err := s.NotesByAuthor(ctx, author.ID, 100)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, n.ID, mine[0].ID)

	all, err := s.ListNotes(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testNotesBeforeOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	author := NewUser(t, s)

	var ids []string
	for i := 0; i < 7; i++ {
		ids = append(ids, NewNote(t, s, author.ID, fmt.Sprintf("note %d", i)).ID)
	}

	page, err := s.NotesBefore(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{ids[6], ids[5], ids[4]}, noteIDs(page))

	page, err = s.NotesBefore(ctx, ids[4], 10)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[3], ids[2], ids[1], ids[0]}, noteIDs(page))

	page, err = s.NotesBefore(ctx, ids[0], 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	limited, err := s.ListNotes(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[6], ids[5]}, noteIDs(limited))
}

func testToggleFavorite(t *testing.T, s store.Store) {
	ctx := context.Background()
	author := NewUser(t, s)
	fan := NewUser(t, s)
	n := NewNote(t, s, author.ID, "likeable")

	on, err := s.ToggleFavorite(ctx, n.ID, fan.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, on.FavoriteCount)
	assert.Equal(t, []string{fan.ID}, on.FavoritedBy)

	faves, err := s.NotesFavoritedBy(ctx, fan.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{n.ID}, noteIDs(faves))

	off, err := s.ToggleFavorite(ctx, n.ID, fan.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, off.FavoriteCount)
	assert.Empty(t, off.FavoritedBy)

	faves, err = s.NotesFavoritedBy(ctx, fan.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, faves)
}

func testToggleFavoriteMissingNote(t *testing.T, s store.Store) {
	ctx := context.Background()
	fan := NewUser(t, s)

	_, err := s.ToggleFavorite(ctx, "0190d0a0-0000-7000-8000-000000000000", fan.ID, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	faves, err := s.NotesFavoritedBy(ctx, fan.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, faves)
}

func testConcurrentToggles(t *testing.T, s store.Store) {
	ctx := context.Background()
	author := NewUser(t, s)
	n := NewNote(t, s, author.ID, "contended")

	const users = 8
	const togglesEach = 3 // odd: every user ends up in the set
	fans := make([]*store.User, users)
	for i := range fans {
		fans[i] = NewUser(t, s)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, users*togglesEach)
	for _, fan := range fans {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for i := 0; i < togglesEach; i++ {
				if _, err := s.ToggleFavorite(ctx, n.ID, userID, time.Now()); err != nil {
					errCh <- err
				}
			}
		}(fan.ID)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := s.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, users, got.FavoriteCount)
	assert.Len(t, got.FavoritedBy, users)
	assert.Equal(t, got.FavoriteCount, len(got.FavoritedBy))
}

func testConcurrentTogglesSameUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	author := NewUser(t, s)
	fan := NewUser(t, s)
	n := NewNote(t, s, author.ID, "double click")

	const toggles = 16 // even: the user ends up out of the set
	var wg sync.WaitGroup
	errCh := make(chan error, toggles)
	start := make(chan struct{})
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.ToggleFavorite(ctx, n.ID, fan.ID, time.Now()); err != nil {
				errCh <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := s.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.FavoritedBy, fan.ID)
	assert.Equal(t, 0, got.FavoriteCount)
	assert.Empty(t, got.FavoritedBy)

	faves, err := s.NotesFavoritedBy(ctx, fan.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, faves)
}

func testDeleteNote(t *testing.T, s store.Store) {
	ctx := context.Background()
	author := NewUser(t, s)
	n := NewNote(t, s, author.ID, "doomed")
	_, err := s.ToggleFavorite(ctx, n.ID, author.ID, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.DeleteNote(ctx, n.ID))
	_, err = s.GetNote(ctx, n.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	faves, err := s.NotesFavoritedBy(ctx, author.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, faves)

	err = s.DeleteNote(ctx, n.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound), "second delete: %v", err)
}

func noteIDs(notes []store.Note) []string {
	ids := make([]string, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	return ids
}
