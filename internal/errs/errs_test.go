package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	Unauthenticated,
	PermissionDenied,
	NotFound,
	AlreadyExists,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
	if !Is(err, code) {
		t.Fatalf("Is(New(%q), %q) = false", code, code)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("wrapped error lost its cause")
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func testUntypedAndNilFallbacks(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != "internal error" {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q want=%q", got, "internal error")
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(nil); got != string(Internal) {
		t.Fatalf("MessageOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if Is(nil, Internal) {
		t.Fatalf("Is(nil, Internal) = true")
	}
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndNilFallbacks)
}

func testStatusAndGraphQLCode_Mapping(t *rapid.T) {
	statuses := map[Code]int{
		InvalidArgument:  http.StatusBadRequest,
		Unauthenticated:  http.StatusUnauthorized,
		PermissionDenied: http.StatusForbidden,
		NotFound:         http.StatusNotFound,
		AlreadyExists:    http.StatusConflict,
		Unavailable:      http.StatusServiceUnavailable,
		Internal:         http.StatusInternalServerError,
	}
	gqlCodes := map[Code]string{
		InvalidArgument:  "BAD_USER_INPUT",
		Unauthenticated:  "UNAUTHENTICATED",
		PermissionDenied: "FORBIDDEN",
		NotFound:         "NOT_FOUND",
		AlreadyExists:    "CONFLICT",
		Unavailable:      "SERVICE_UNAVAILABLE",
		Internal:         "INTERNAL_SERVER_ERROR",
	}

	code := rapid.SampledFrom(append(append([]Code{}, allCodes...), Code("unknown_code"))).Draw(t, "code")

	wantStatus := http.StatusInternalServerError
	if mapped, ok := statuses[code]; ok {
		wantStatus = mapped
	}
	if got := HTTPStatus(code); got != wantStatus {
		t.Fatalf("HTTPStatus mismatch: code=%q got=%d want=%d", code, got, wantStatus)
	}

	wantGQL := "INTERNAL_SERVER_ERROR"
	if mapped, ok := gqlCodes[code]; ok {
		wantGQL = mapped
	}
	if got := GraphQLCode(code); got != wantGQL {
		t.Fatalf("GraphQLCode mismatch: code=%q got=%q want=%q", code, got, wantGQL)
	}
}

func TestStatusAndGraphQLCode_Mapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testStatusAndGraphQLCode_Mapping)
}
