package api

import (
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/dgraph-io/gqlparser/v2/parser"
)

// operationInfo is what the transport needs to know about a request before
// handing it to the executor.
type operationInfo struct {
	Name     string
	Mutation bool
	// Cost saturates at maxCost+1 when a limit is set.
	Cost int
}

var errNoOperation = errors.New("no operation in request")

// inspectQuery parses query and prices the selected operation at one point
// per field, with fragment spreads expanded in place. With maxCost > 0 the
// walk stops as soon as the running total exceeds it.
func inspectQuery(query, operationName string, maxCost int) (*operationInfo, error) {
	doc, gqlErr := parser.ParseQuery(&ast.Source{Input: query})
	if gqlErr != nil {
		return nil, gqlErr
	}
	if len(doc.Operations) == 0 {
		return nil, errNoOperation
	}
	if len(doc.Operations) > 1 && operationName == "" {
		return nil, errors.New("operation name must be supplied when the query has more than one operation")
	}
	op := doc.Operations.ForName(operationName)
	if op == nil {
		return nil, fmt.Errorf("operation %q is not present in the request", operationName)
	}

	ceiling := math.MaxInt32
	if maxCost > 0 {
		ceiling = maxCost + 1
	}
	c := &coster{
		fragments: doc.Fragments,
		ceiling:   ceiling,
		priced:    map[string]int{},
		active:    map[string]bool{},
	}
	return &operationInfo{
		Name:     op.Name,
		Mutation: op.Operation == ast.Mutation,
		Cost:     c.selections(op.SelectionSet),
	}, nil
}

type coster struct {
	fragments ast.FragmentDefinitionList
	ceiling   int
	// priced holds each fragment's cost once computed, so a fragment spread
	// many times is walked once.
	priced map[string]int
	// fragments currently being expanded; a cycle is invalid GraphQL and
	// the executor rejects it, so it is not recursed into here.
	active map[string]bool
}

func (c *coster) add(a, b int) int {
	if a+b >= c.ceiling || a+b < a {
		return c.ceiling
	}
	return a + b
}

func (c *coster) selections(set ast.SelectionSet) int {
	total := 0
	for _, sel := range set {
		if total >= c.ceiling {
			return c.ceiling
		}
		switch s := sel.(type) {
		case *ast.Field:
			total = c.add(total, c.add(1, c.selections(s.SelectionSet)))
		case *ast.InlineFragment:
			total = c.add(total, c.selections(s.SelectionSet))
		case *ast.FragmentSpread:
			total = c.add(total, c.fragment(s.Name))
		}
	}
	return total
}

func (c *coster) fragment(name string) int {
	if cost, ok := c.priced[name]; ok {
		return cost
	}
	def := c.fragments.ForName(name)
	if def == nil || c.active[name] {
		return 0
	}
	c.active[name] = true
	cost := c.selections(def.SelectionSet)
	delete(c.active, name)
	c.priced[name] = cost
	return cost
}
