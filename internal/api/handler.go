// Package api serves the GraphQL schema over HTTP and exposes a health check.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/kuitang/notedly/internal/errs"
	"github.com/kuitang/notedly/internal/logutil"
	"github.com/kuitang/notedly/internal/obs"
)

// MaxBodyBytes caps a POSTed GraphQL request body.
const MaxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Request is a GraphQL request as received over HTTP.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// Handler serves GraphQL at /api and liveness at /healthz.
type Handler struct {
	schema  *graphql.Schema
	store   Pinger
	maxCost int
}

// NewHandler creates a handler. maxCost <= 0 disables the cost check.
func NewHandler(schema *graphql.Schema, store Pinger, maxCost int) *Handler {
	return &Handler{schema: schema, store: store, maxCost: maxCost}
}

// RegisterRoutes registers the GraphQL and health routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api", h.ServeGraphQL)
	mux.HandleFunc("GET /healthz", h.Healthz)
}

// httpError is a transport failure that happens before execution.
type httpError struct {
	status  int
	code    errs.Code
	message string
}

func (e *httpError) Error() string { return e.message }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, code: errs.InvalidArgument, message: fmt.Sprintf(format, args...)}
}

// ServeGraphQL handles GET (queries only) and POST application/json requests.
func (h *Handler) ServeGraphQL(w http.ResponseWriter, r *http.Request) {
	req, err := readRequest(w, r)
	if err != nil {
		writeTransportError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeTransportError(w, badRequest("no query string supplied in request"))
		return
	}

	op, err := inspectQuery(req.Query, req.OperationName, h.maxCost)
	if err != nil {
		writeTransportError(w, badRequest("%s", err.Error()))
		return
	}
	if op.Mutation && r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeTransportError(w, &httpError{
			status:  http.StatusMethodNotAllowed,
			code:    errs.InvalidArgument,
			message: "Mutations must be sent with POST",
		})
		return
	}
	if h.maxCost > 0 && op.Cost > h.maxCost {
		obs.From(r.Context()).Info("graphql_cost_rejected", "operation", op.Name, "cost", op.Cost, "max_cost", h.maxCost)
		writeTransportError(w, badRequest("Query cost exceeds the maximum of %d", h.maxCost))
		return
	}

	ctx := r.Context()
	if op.Name != "" {
		ctx = obs.WithOperation(ctx, op.Name)
	}
	obs.From(ctx).Debug("graphql_request",
		"cost", op.Cost,
		"mutation", op.Mutation,
		"query", logutil.TruncateForLog(req.Query, 500),
		"variables", logutil.RedactVariables(req.Variables),
	)

	resp := h.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)
	if len(resp.Errors) > 0 {
		obs.From(ctx).Debug("graphql_errors", "count", len(resp.Errors), "first", resp.Errors[0].Message)
	}
	writeJSON(w, http.StatusOK, resp)
}

func readRequest(w http.ResponseWriter, r *http.Request) (*Request, error) {
	req := &Request{}
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		req.Query = query.Get("query")
		req.OperationName = query.Get("operationName")
		if variables := query.Get("variables"); variables != "" {
			if err := json.Unmarshal([]byte(variables), &req.Variables); err != nil {
				return nil, badRequest("variables is not a valid JSON object")
			}
		}
	case http.MethodPost:
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			return nil, &httpError{
				status:  http.StatusUnsupportedMediaType,
				code:    errs.InvalidArgument,
				message: "Unrecognised Content-Type. Please use application/json for GraphQL requests",
			}
		}
		body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		if err := json.NewDecoder(body).Decode(req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, &httpError{status: http.StatusRequestEntityTooLarge, code: errs.InvalidArgument, message: "Request body too large"}
			}
			return nil, badRequest("Not a valid GraphQL request body")
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		return nil, &httpError{
			status:  http.StatusMethodNotAllowed,
			code:    errs.InvalidArgument,
			message: "Unrecognised request method. Please use GET or POST for GraphQL requests",
		}
	}
	return req, nil
}

// Healthz reports whether the store answers a ping.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		obs.From(r.Context()).Warn("healthz_store_unreachable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Errors []errorEntry `json:"errors"`
}

type errorEntry struct {
	Message    string            `json:"message"`
	Extensions map[string]string `json:"extensions"`
}

func writeTransportError(w http.ResponseWriter, err error) {
	var he *httpError
	if !errors.As(err, &he) {
		he = &httpError{status: http.StatusInternalServerError, code: errs.Internal, message: "internal error"}
	}
	writeJSON(w, he.status, errorBody{Errors: []errorEntry{{
		Message:    he.message,
		Extensions: map[string]string{"code": errs.GraphQLCode(he.code)},
	}}})
}
