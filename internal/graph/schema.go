// Package graph holds the GraphQL schema and its resolvers. Resolvers are
// thin: they read the actor from the request context and delegate to the
// auth and notes services.
package graph

import (
	_ "embed"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/kuitang/notedly/internal/auth"
	"github.com/kuitang/notedly/internal/notes"
)

//go:embed schema.graphql
var SchemaSDL string

// Limits bounds what a single request may ask for.
type Limits struct {
	MaxDepth      int
	Introspection bool
}

// NewSchema parses the schema and binds it to the services.
func NewSchema(users *auth.Service, notes *notes.Service, limits Limits) (*graphql.Schema, error) {
	opts := []graphql.SchemaOpt{graphql.UseFieldResolvers()}
	if limits.MaxDepth > 0 {
		opts = append(opts, graphql.MaxDepth(limits.MaxDepth))
	}
	if !limits.Introspection {
		opts = append(opts, graphql.DisableIntrospection())
	}
	return graphql.ParseSchema(SchemaSDL, &Resolver{users: users, notes: notes}, opts...)
}
