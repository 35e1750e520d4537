package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestClassifyHTTPError_UsesBodyCode(t *testing.T) {
	t.Parallel()
	err := ClassifyHTTPError(404, []byte(`{"code":"E404001","error":"No data available."}`))
	if err.Code != CodeDataNotFound || err.Message != "No data available." {
		t.Fatalf("unexpected error: %+v", err)
	}
	if err.Category != Irrecoverable {
		t.Fatalf("404 must be irrecoverable")
	}
	if err.Error() != "[E404001] HTTP 404: No data available." {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestClassifyHTTPError_FallsBackToStatus(t *testing.T) {
	t.Parallel()
	cases := map[int]string{
		400: CodeInvalidFormat,
		401: CodeInvalidAuthHeader,
		403: CodeOperationForbidden,
		404: CodeDataNotFound,
		409: CodeDuplicateValue,
		500: "E500001",
		503: "E503001",
	}
	for status, code := range cases {
		got := ClassifyHTTPError(status, []byte("<html>oops</html>"))
		if got.Code != code {
			t.Fatalf("status %d: want code %s got %s", status, code, got.Code)
		}
	}
	if got := ClassifyHTTPError(502, nil); got.Message != "Bad Gateway" {
		t.Fatalf("empty body should use status text, got %q", got.Message)
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()
	if ClassifyHTTPError(500, nil).Category != Recoverable {
		t.Fatal("5xx must be recoverable")
	}
	if ClassifyHTTPError(429, nil).Category != Recoverable {
		t.Fatal("429 must be recoverable")
	}
	if NewNetworkError("GET", fmt.Errorf("boom")).Category != Recoverable {
		t.Fatal("network errors must be recoverable")
	}
	if !IsIrrecoverable(New(CodeGeneric, "objectId is required")) {
		t.Fatal("local errors must be irrecoverable")
	}
	if IsIrrecoverable(fmt.Errorf("plain")) {
		t.Fatal("plain errors are not classified")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()
	sentinel := &Error{Code: CodeDataNotFound}
	wrapped := fmt.Errorf("fetch: %w", ClassifyHTTPError(404, nil))
	if !stderrors.Is(wrapped, sentinel) {
		t.Fatal("errors.Is should match on code")
	}
	if stderrors.Is(wrapped, &Error{Code: CodeDuplicateValue}) {
		t.Fatal("different code must not match")
	}
	if !IsCode(wrapped, CodeDataNotFound) || CodeOf(wrapped) != CodeDataNotFound {
		t.Fatal("IsCode/CodeOf should see through wrapping")
	}
	if IsCode(nil, CodeDataNotFound) {
		t.Fatal("nil error has no code")
	}
}

func TestWrapKeepsUnderlying(t *testing.T) {
	t.Parallel()
	base := fmt.Errorf("disk full")
	err := Wrap(CodeGeneric, base, "persist %s", "currentUser")
	if !stderrors.Is(err, base) {
		t.Fatal("Unwrap should expose underlying error")
	}
	if err.Error() != "[E100001] persist currentUser" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
