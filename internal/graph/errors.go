package graph

import (
	"context"

	"github.com/kuitang/notedly/internal/errs"
	"github.com/kuitang/notedly/internal/obs"
)

// resolverError is what resolvers hand back to graphql-go: the client-safe
// message plus an extensions.code derived from the coded error.
type resolverError struct {
	err error
}

func (e *resolverError) Error() string {
	return errs.MessageOf(e.err)
}

func (e *resolverError) Unwrap() error {
	return e.err
}

func (e *resolverError) Extensions() map[string]any {
	return map[string]any{"code": errs.GraphQLCode(errs.CodeOf(e.err))}
}

func fail(ctx context.Context, field string, err error) error {
	if errs.CodeOf(err) == errs.Internal {
		obs.From(ctx).Error("graphql_resolver_failed", "field", field, "error", err)
	}
	return &resolverError{err: err}
}
