package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/notedly/internal/auth"
	"github.com/kuitang/notedly/internal/graph"
	"github.com/kuitang/notedly/internal/notes"
	"github.com/kuitang/notedly/internal/obs"
	"github.com/kuitang/notedly/internal/ratelimit"
	"github.com/kuitang/notedly/internal/testdb"
)

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func (r gqlResponse) code() string {
	if len(r.Errors) == 0 {
		return ""
	}
	code, _ := r.Errors[0].Extensions["code"].(string)
	return code
}

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, maxCost int, limiter *ratelimit.RateLimiter) *testServer {
	t.Helper()
	s := testdb.MustNewStore(t)
	tokens, err := auth.NewTokenIssuer(strings.Repeat("s", 32), time.Hour)
	require.NoError(t, err)
	users := auth.NewService(s, auth.FakeInsecureHasher{}, tokens)
	schema, err := graph.NewSchema(users, notes.NewService(s), graph.Limits{MaxDepth: 5, Introspection: true})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(NewHandler(schema, s, maxCost), users, limiter, RouterOptions{}))
	t.Cleanup(srv.Close)
	return &testServer{srv}
}

func (s *testServer) post(t *testing.T, token, query string, vars map[string]any) (int, gqlResponse) {
	t.Helper()
	body, err := json.Marshal(Request{Query: query, Variables: vars})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.URL+"/api", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(t, req)
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, gqlResponse) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out gqlResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (s *testServer) signUp(t *testing.T, name string) string {
	t.Helper()
	status, resp := s.post(t, "", `mutation($username: String!, $email: String!, $password: String!) { signUp(username: $username, email: $email, password: $password) }`,
		map[string]any{"username": name, "email": name + "@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, resp.Errors)
	var data struct{ SignUp string }
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data.SignUp
}

func TestPost_Hello(t *testing.T) {
	srv := newTestServer(t, 1000, nil)
	status, resp := srv.post(t, "", `{ hello }`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"hello":"Hello World!"}`, string(resp.Data))
}

func TestGet_QueryAndVariables(t *testing.T) {
	srv := newTestServer(t, 1000, nil)
	q := url.Values{}
	q.Set("query", `query($u: String!) { user(username: $u) { id } }`)
	q.Set("variables", `{"u":"nobody"}`)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api?"+q.Encode(), nil)
	require.NoError(t, err)

	status, resp := srv.do(t, req)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"user":null}`, string(resp.Data))
}

func TestGet_RejectsMutation(t *testing.T) {
	srv := newTestServer(t, 1000, nil)
	q := url.Values{}
	q.Set("query", `mutation { newNote(content: "x") { id } }`)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api?"+q.Encode(), nil)
	require.NoError(t, err)

	status, resp := srv.do(t, req)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "BAD_USER_INPUT", resp.code())
}

func TestTransportErrors(t *testing.T) {
	srv := newTestServer(t, 1000, nil)

	cases := []struct {
		name        string
		method      string
		contentType string
		body        string
		want        int
	}{
		{"wrong content type", http.MethodPost, "text/plain", `{"query":"{ hello }"}`, http.StatusUnsupportedMediaType},
		{"missing content type", http.MethodPost, "", `{"query":"{ hello }"}`, http.StatusUnsupportedMediaType},
		{"malformed body", http.MethodPost, "application/json", `{"query":`, http.StatusBadRequest},
		{"empty query", http.MethodPost, "application/json", `{"query":"  "}`, http.StatusBadRequest},
		{"syntax error", http.MethodPost, "application/json", `{"query":"{ hello "}`, http.StatusBadRequest},
		{"unsupported method", http.MethodPut, "application/json", `{"query":"{ hello }"}`, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+"/api", strings.NewReader(tc.body))
			require.NoError(t, err)
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			status, resp := srv.do(t, req)
			assert.Equal(t, tc.want, status)
			assert.Equal(t, "BAD_USER_INPUT", resp.code())
		})
	}
}

func TestCostLimit(t *testing.T) {
	srv := newTestServer(t, 3, nil)

	status, resp := srv.post(t, "", `{ notes { id content } }`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp.Errors)

	status, resp = srv.post(t, "", `{ notes { id content author { id } } }`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_USER_INPUT", resp.code())
	assert.Contains(t, resp.Errors[0].Message, "exceeds the maximum of 3")
}

func TestCostLimit_DoubledFragmentsRejected(t *testing.T) {
	srv := newTestServer(t, 1000, nil)
	status, resp := srv.post(t, "", doubledFragments(40), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_USER_INPUT", resp.code())
}

func TestInvalidToken_Unauthenticated(t *testing.T) {
	srv := newTestServer(t, 1000, nil)
	status, resp := srv.post(t, "not-a-jwt", `{ hello }`, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", resp.code())
	assert.Equal(t, "Session invalid", resp.Errors[0].Message)
}

func TestEndToEnd_NoteFlow(t *testing.T) {
	srv := newTestServer(t, 1000, nil)
	token := srv.signUp(t, "ada")

	_, resp := srv.post(t, "", `mutation { newNote(content: "anon") { id } }`, nil)
	assert.Equal(t, "UNAUTHENTICATED", resp.code())
	assert.Equal(t, "You must be signed in to create a note", resp.Errors[0].Message)

	status, resp := srv.post(t, token, `mutation($c: String!) { newNote(content: $c) { id author { username } } }`,
		map[string]any{"c": "**bold**"})
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, resp.Errors)
	var created struct {
		NewNote struct {
			ID     string
			Author struct{ Username string }
		}
	}
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, "ada", created.NewNote.Author.Username)

	_, resp = srv.post(t, token, `query($id: ID!) { note(id: $id) { contentHtml } }`, map[string]any{"id": created.NewNote.ID})
	require.Empty(t, resp.Errors)
	var rendered struct{ Note struct{ ContentHTML string `json:"contentHtml"` } }
	require.NoError(t, json.Unmarshal(resp.Data, &rendered))
	assert.Contains(t, rendered.Note.ContentHTML, "<strong>bold</strong>")

	_, resp = srv.post(t, token, `mutation($id: ID!) { deleteNote(id: $id) }`, map[string]any{"id": created.NewNote.ID})
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"deleteNote":true}`, string(resp.Data))
}

func TestRateLimit_KeysOnUser(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		AnonRPS: 0.001, AnonBurst: 2,
		AuthRPS: 0.001, AuthBurst: 2,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, 1000, limiter)

	// signUp spends one anonymous token.
	token := srv.signUp(t, "ada")
	status, _ := srv.post(t, "", `{ hello }`, nil)
	require.Equal(t, http.StatusOK, status)
	status, resp := srv.post(t, "", `{ hello }`, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", resp.code())

	// The signed-in user has a separate bucket.
	status, _ = srv.post(t, token, `{ hello }`, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestVariablesRedactedInLogs(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	srv := newTestServer(t, 1000, nil)
	srv.signUp(t, "ada")

	logs := buf.String()
	assert.Contains(t, logs, "graphql_request")
	assert.NotContains(t, logs, "correct horse")
	assert.Contains(t, logs, "[REDACTED]")
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, 1000, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h := NewHandler(nil, downStore{}, 0)
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, 1000, nil)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://notes.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))
}

func TestSecurityAndCORSHeaders(t *testing.T) {
	srv := newTestServer(t, 1000, nil)

	for _, token := range []string{"", "not-a-jwt"} {
		body := strings.NewReader(`{"query":"{ hello }"}`)
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		assert.Equal(t, "no-referrer", resp.Header.Get("Referrer-Policy"))
		assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "default-src 'none'")
		assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestCORS_ConfiguredOrigin(t *testing.T) {
	handler := cors("https://notes.example.com", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://notes.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestRateLimit_IgnoresSpoofedForwardedFor(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		AnonRPS: 0.001, AnonBurst: 1,
		AuthRPS: 0.001, AuthBurst: 1,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, 1000, limiter)

	codes := make([]int, 0, 2)
	for _, hop := range []string{"198.51.100.1", "198.51.100.2"} {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api", strings.NewReader(`{"query":"{ hello }"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", hop)
		status, _ := srv.do(t, req)
		codes = append(codes, status)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
