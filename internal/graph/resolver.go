package graph

import (
	"context"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/kuitang/notedly/internal/auth"
	"github.com/kuitang/notedly/internal/errs"
	"github.com/kuitang/notedly/internal/notes"
	"github.com/kuitang/notedly/internal/obs"
	"github.com/kuitang/notedly/internal/store"
)

// Resolver is the root for both Query and Mutation.
type Resolver struct {
	users *auth.Service
	notes *notes.Service
}

func (r *Resolver) noteList(list []store.Note) []*noteResolver {
	out := make([]*noteResolver, len(list))
	for i := range list {
		out[i] = &noteResolver{root: r, note: &list[i]}
	}
	return out
}

func (r *Resolver) note(n *store.Note) *noteResolver {
	return &noteResolver{root: r, note: n}
}

func (r *Resolver) user(u *store.User) *userResolver {
	return &userResolver{root: r, user: u}
}

// Queries

func (r *Resolver) Hello() string {
	return "Hello World!"
}

func (r *Resolver) Notes(ctx context.Context) ([]*noteResolver, error) {
	list, err := r.notes.List(ctx)
	if err != nil {
		return nil, fail(ctx, "notes", err)
	}
	return r.noteList(list), nil
}

func (r *Resolver) Note(ctx context.Context, args struct{ ID graphql.ID }) (*noteResolver, error) {
	n, err := r.notes.Get(ctx, string(args.ID))
	if err != nil {
		return nil, fail(ctx, "note", err)
	}
	return r.note(n), nil
}

func (r *Resolver) User(ctx context.Context, args struct{ Username string }) (*userResolver, error) {
	u, err := r.users.UserByUsername(ctx, args.Username)
	if err != nil {
		return nil, fail(ctx, "user", err)
	}
	if u == nil {
		return nil, nil
	}
	return r.user(u), nil
}

func (r *Resolver) Users(ctx context.Context) ([]*userResolver, error) {
	list, err := r.users.Users(ctx)
	if err != nil {
		return nil, fail(ctx, "users", err)
	}
	out := make([]*userResolver, len(list))
	for i := range list {
		out[i] = r.user(&list[i])
	}
	return out, nil
}

func (r *Resolver) Me(ctx context.Context) (*userResolver, error) {
	u, err := r.users.Me(ctx, auth.ActorFrom(ctx))
	if err != nil {
		return nil, fail(ctx, "me", err)
	}
	return r.user(u), nil
}

func (r *Resolver) NoteFeed(ctx context.Context, args struct{ Cursor *string }) (*feedResolver, error) {
	cursor := ""
	if args.Cursor != nil {
		cursor = *args.Cursor
	}
	page, err := r.notes.Feed(ctx, cursor)
	if err != nil {
		return nil, fail(ctx, "noteFeed", err)
	}
	return &feedResolver{root: r, feed: page}, nil
}

// Mutations

func (r *Resolver) NewNote(ctx context.Context, args struct{ Content string }) (*noteResolver, error) {
	n, err := r.notes.Create(ctx, auth.ActorFrom(ctx), args.Content)
	if err != nil {
		return nil, fail(ctx, "newNote", err)
	}
	return r.note(n), nil
}

func (r *Resolver) UpdateNote(ctx context.Context, args struct {
	ID      graphql.ID
	Content string
}) (*noteResolver, error) {
	n, err := r.notes.Update(ctx, auth.ActorFrom(ctx), string(args.ID), args.Content)
	if err != nil {
		return nil, fail(ctx, "updateNote", err)
	}
	return r.note(n), nil
}

// DeleteNote reports success as a boolean. Authorization failures are
// errors; a missing note or a store failure is false.
func (r *Resolver) DeleteNote(ctx context.Context, args struct{ ID graphql.ID }) (bool, error) {
	err := r.notes.Delete(ctx, auth.ActorFrom(ctx), string(args.ID))
	switch errs.CodeOf(err) {
	case errs.Unauthenticated, errs.PermissionDenied:
		return false, fail(ctx, "deleteNote", err)
	}
	if err != nil {
		obs.From(ctx).Warn("delete_note_failed", "note_id", string(args.ID), "code", string(errs.CodeOf(err)), "error", err)
		return false, nil
	}
	return true, nil
}

func (r *Resolver) SignUp(ctx context.Context, args struct {
	Username string
	Email    string
	Password string
}) (string, error) {
	token, err := r.users.SignUp(ctx, args.Username, args.Email, args.Password)
	if err != nil {
		return "", fail(ctx, "signUp", err)
	}
	return token, nil
}

func (r *Resolver) SignIn(ctx context.Context, args struct {
	Username *string
	Email    *string
	Password string
}) (string, error) {
	var username, email string
	if args.Username != nil {
		username = *args.Username
	}
	if args.Email != nil {
		email = *args.Email
	}
	token, err := r.users.SignIn(ctx, username, email, args.Password)
	if err != nil {
		return "", fail(ctx, "signIn", err)
	}
	return token, nil
}

func (r *Resolver) ToggleFavorite(ctx context.Context, args struct{ ID graphql.ID }) (*noteResolver, error) {
	n, err := r.notes.ToggleFavorite(ctx, auth.ActorFrom(ctx), string(args.ID))
	if err != nil {
		return nil, fail(ctx, "toggleFavorite", err)
	}
	return r.note(n), nil
}
