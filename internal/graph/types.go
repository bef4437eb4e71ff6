package graph

import (
	"context"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/kuitang/notedly/internal/notes"
	"github.com/kuitang/notedly/internal/store"
)

type noteResolver struct {
	root *Resolver
	note *store.Note
}

func (n *noteResolver) ID() graphql.ID { return graphql.ID(n.note.ID) }

func (n *noteResolver) Content() string { return n.note.Content }

func (n *noteResolver) ContentHTML() string { return notes.RenderMarkdown(n.note.Content) }

func (n *noteResolver) CreatedAt() DateTime { return DateTime{n.note.CreatedAt} }

func (n *noteResolver) UpdatedAt() DateTime { return DateTime{n.note.UpdatedAt} }

func (n *noteResolver) FavoriteCount() int32 { return int32(n.note.FavoriteCount) }

func (n *noteResolver) Author(ctx context.Context) (*userResolver, error) {
	u, err := n.root.users.User(ctx, n.note.AuthorID)
	if err != nil {
		return nil, fail(ctx, "Note.author", err)
	}
	return n.root.user(u), nil
}

// FavoritedBy resolves users in favorite order with one store lookup.
// Users that no longer exist are skipped.
func (n *noteResolver) FavoritedBy(ctx context.Context) ([]*userResolver, error) {
	if len(n.note.FavoritedBy) == 0 {
		return []*userResolver{}, nil
	}
	users, err := n.root.users.UsersByIDs(ctx, n.note.FavoritedBy)
	if err != nil {
		return nil, fail(ctx, "Note.favoritedBy", err)
	}
	out := make([]*userResolver, len(users))
	for i := range users {
		out[i] = n.root.user(&users[i])
	}
	return out, nil
}

type userResolver struct {
	root *Resolver
	user *store.User
}

func (u *userResolver) ID() graphql.ID { return graphql.ID(u.user.ID) }

func (u *userResolver) Username() string { return u.user.Username }

func (u *userResolver) Email() string { return u.user.Email }

func (u *userResolver) Avatar() *string {
	if u.user.Avatar == "" {
		return nil
	}
	return &u.user.Avatar
}

func (u *userResolver) Notes(ctx context.Context) ([]*noteResolver, error) {
	list, err := u.root.notes.ByAuthor(ctx, u.user.ID)
	if err != nil {
		return nil, fail(ctx, "User.notes", err)
	}
	return u.root.noteList(list), nil
}

func (u *userResolver) Favorites(ctx context.Context) ([]*noteResolver, error) {
	list, err := u.root.notes.FavoritesOf(ctx, u.user.ID)
	if err != nil {
		return nil, fail(ctx, "User.favorites", err)
	}
	return u.root.noteList(list), nil
}

type feedResolver struct {
	root *Resolver
	feed *notes.Feed
}

func (f *feedResolver) Notes() []*noteResolver { return f.root.noteList(f.feed.Notes) }

func (f *feedResolver) Cursor() string { return f.feed.Cursor }

func (f *feedResolver) HasNextPage() bool { return f.feed.HasNextPage }
