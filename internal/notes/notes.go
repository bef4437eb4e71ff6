// Package notes implements note operations on top of a store.Store: the
// ownership gate for writes, the cursor feed, and favorite toggling.
package notes

import (
	"context"
	"errors"

	"github.com/kuitang/notedly/internal/auth"
	"github.com/kuitang/notedly/internal/errs"
	"github.com/kuitang/notedly/internal/obs"
	"github.com/kuitang/notedly/internal/store"
)

const (
	// ListLimit caps the notes query and the per-user note lists.
	ListLimit = 100

	// FeedLimit is the page size of the cursor feed.
	FeedLimit = 10
)

// Feed is one page of the cursor feed, newest first. Cursor is the ID of
// the last note on the page and is empty when the page is empty.
type Feed struct {
	Notes       []store.Note
	Cursor      string
	HasNextPage bool
}

// Service handles note CRUD, the feed, and favorites.
type Service struct {
	store store.NoteStore
	clock auth.Clock
}

func NewService(s store.NoteStore) *Service {
	return &Service{store: s, clock: auth.SystemClock}
}

// SetClock replaces the clock used for timestamps. Intended for testing.
func (s *Service) SetClock(c auth.Clock) {
	s.clock = c
}

// storeError maps a store failure for operation op. Not-found is the
// caller's problem; anything else is logged and hidden.
func storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.Wrap(errs.NotFound, "Note not found", err)
	}
	obs.From(ctx).Error("note_store_failed", "op", op, "error", err)
	return errs.Wrap(errs.Internal, "internal error", err)
}

func checkID(id string) error {
	if !store.ValidID(id) {
		return errs.New(errs.NotFound, "Note not found")
	}
	return nil
}

// Create stores a note authored by actor.
func (s *Service) Create(ctx context.Context, actor *auth.Actor, content string) (*store.Note, error) {
	if actor == nil {
		return nil, errs.New(errs.Unauthenticated, "You must be signed in to create a note")
	}
	if err := CheckContent(content); err != nil {
		return nil, err
	}

	id, err := store.NewID()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "internal error", err)
	}
	now := s.clock.Now().UTC()
	n := &store.Note{
		ID:          id,
		Content:     content,
		AuthorID:    actor.UserID,
		FavoritedBy: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateNote(ctx, n); err != nil {
		return nil, storeError(ctx, "create", err)
	}
	obs.From(ctx).Info("note_created", "note_id", n.ID)
	return n, nil
}

// Get returns one note.
func (s *Service) Get(ctx context.Context, id string) (*store.Note, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	n, err := s.store.GetNote(ctx, id)
	if err != nil {
		return nil, storeError(ctx, "get", err)
	}
	return n, nil
}

// List returns the newest ListLimit notes.
func (s *Service) List(ctx context.Context) ([]store.Note, error) {
	notes, err := s.store.ListNotes(ctx, ListLimit)
	if err != nil {
		return nil, storeError(ctx, "list", err)
	}
	return notes, nil
}

// Feed returns the page of notes older than cursor. An empty cursor starts
// from the newest note.
func (s *Service) Feed(ctx context.Context, cursor string) (*Feed, error) {
	if cursor != "" && !store.ValidID(cursor) {
		return nil, errs.New(errs.InvalidArgument, "Invalid cursor")
	}

	notes, err := s.store.NotesBefore(ctx, cursor, FeedLimit+1)
	if err != nil {
		return nil, storeError(ctx, "feed", err)
	}

	page := &Feed{Notes: notes}
	if len(notes) > FeedLimit {
		page.HasNextPage = true
		page.Notes = notes[:FeedLimit]
	}
	if len(page.Notes) > 0 {
		page.Cursor = page.Notes[len(page.Notes)-1].ID
	}
	return page, nil
}

// ByAuthor returns notes written by userID, newest first.
func (s *Service) ByAuthor(ctx context.Context, userID string) ([]store.Note, error) {
	notes, err := s.store.NotesByAuthor(ctx, userID, ListLimit)
	if err != nil {
		return nil, storeError(ctx, "by_author", err)
	}
	return notes, nil
}

// FavoritesOf returns notes userID has favorited, newest first.
func (s *Service) FavoritesOf(ctx context.Context, userID string) ([]store.Note, error) {
	notes, err := s.store.NotesFavoritedBy(ctx, userID, ListLimit)
	if err != nil {
		return nil, storeError(ctx, "favorites", err)
	}
	return notes, nil
}

// owned loads a note and checks that actor wrote it. verb names the
// attempted action in the error messages.
func (s *Service) owned(ctx context.Context, actor *auth.Actor, id, verb string) (*store.Note, error) {
	if actor == nil {
		return nil, errs.New(errs.Unauthenticated, "You must be signed in to "+verb+" a note")
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	n, err := s.store.GetNote(ctx, id)
	if err != nil {
		return nil, storeError(ctx, verb, err)
	}
	if n.AuthorID != actor.UserID {
		obs.From(ctx).Info("note_permission_denied", "note_id", id, "op", verb)
		return nil, errs.New(errs.PermissionDenied, "You don't have permissions to "+verb+" the note")
	}
	return n, nil
}

// Update replaces the content of a note owned by actor.
func (s *Service) Update(ctx context.Context, actor *auth.Actor, id, content string) (*store.Note, error) {
	if _, err := s.owned(ctx, actor, id, "update"); err != nil {
		return nil, err
	}
	if err := CheckContent(content); err != nil {
		return nil, err
	}
	n, err := s.store.UpdateNoteContent(ctx, id, content, s.clock.Now().UTC())
	if err != nil {
		return nil, storeError(ctx, "update", err)
	}
	return n, nil
}

// Delete removes a note owned by actor.
func (s *Service) Delete(ctx context.Context, actor *auth.Actor, id string) error {
	if _, err := s.owned(ctx, actor, id, "delete"); err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, id); err != nil {
		return storeError(ctx, "delete", err)
	}
	obs.From(ctx).Info("note_deleted", "note_id", id)
	return nil
}

// ToggleFavorite adds actor to the note's favorites, or removes them if
// already present.
func (s *Service) ToggleFavorite(ctx context.Context, actor *auth.Actor, id string) (*store.Note, error) {
	if actor == nil {
		return nil, errs.New(errs.Unauthenticated, "You must be signed in to favorite a note")
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	n, err := s.store.ToggleFavorite(ctx, id, actor.UserID, s.clock.Now().UTC())
	if err != nil {
		return nil, storeError(ctx, "toggle_favorite", err)
	}
	return n, nil
}
