package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// payload is the server's error body: {"code":"E404001","error":"No data available."}
type payload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ClassifyHTTPError turns a non-2xx response into an *Error.
// The code from the body wins; when the body is not an NCMB error document the
// code is derived from the status.
func ClassifyHTTPError(statusCode int, body []byte) *Error {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil || p.Code == "" {
		p.Code = codeForStatus(statusCode)
		p.Error = strings.TrimSpace(string(body))
		if p.Error == "" {
			p.Error = http.StatusText(statusCode)
		}
	}
	return &Error{
		Code:       p.Code,
		Message:    p.Error,
		StatusCode: statusCode,
		Category:   getHTTPErrorCategory(statusCode),
	}
}

// getHTTPErrorCategory maps HTTP status codes to error categories.
func getHTTPErrorCategory(statusCode int) ErrorCategory {
	switch {
	case statusCode >= 400 && statusCode < 500:
		switch statusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return Recoverable
		default:
			return Irrecoverable
		}
	case statusCode >= 500 && statusCode < 600:
		return Recoverable
	default:
		// Unexpected status codes - be conservative and retry
		return Recoverable
	}
}

func codeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return CodeInvalidFormat
	case http.StatusUnauthorized:
		return CodeInvalidAuthHeader
	case http.StatusForbidden:
		return CodeOperationForbidden
	case http.StatusNotFound:
		return CodeDataNotFound
	case http.StatusConflict:
		return CodeDuplicateValue
	default:
		if statusCode >= 500 {
			return fmt.Sprintf("E%d001", statusCode)
		}
		return CodeGeneric
	}
}

// NewNetworkError creates an error for transport-level failures.
// Network errors are recoverable as they may be transient.
func NewNetworkError(operation string, err error) *Error {
	return &Error{
		Code:       CodeNetwork,
		Message:    fmt.Sprintf("%s network error: %v", operation, err),
		Category:   Recoverable,
		Underlying: err,
	}
}
