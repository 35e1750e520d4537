package client

import (
	"errors"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/shardqueue"
)

// Error is the single error type returned by the SDK. Use errors.As to read
// its Code, or IsCode for a direct comparison.
type Error = ncmberrors.Error

// Error codes. E100xxx are raised locally; the rest come from the server.
const (
	CodeGeneric                  = ncmberrors.CodeGeneric
	CodeNetwork                  = ncmberrors.CodeNetwork
	CodeInvalidType              = ncmberrors.CodeInvalidType
	CodeInvalidResponseSignature = ncmberrors.CodeInvalidResponseSignature
	CodeInvalidResponse          = ncmberrors.CodeInvalidResponse

	CodeInvalidJSON        = ncmberrors.CodeInvalidJSON
	CodeInvalidFormat      = ncmberrors.CodeInvalidFormat
	CodeRequired           = ncmberrors.CodeRequired
	CodeInvalidAuthHeader  = ncmberrors.CodeInvalidAuthHeader
	CodeOAuthFailure       = ncmberrors.CodeOAuthFailure
	CodeOperationForbidden = ncmberrors.CodeOperationForbidden
	CodeDataNotFound       = ncmberrors.CodeDataNotFound
	CodeDuplicateValue     = ncmberrors.CodeDuplicateValue
	CodeInternalServer     = ncmberrors.CodeInternalServer
)

// Sentinels for errors.Is; they match any *Error with the same code.
var (
	ErrDataNotFound       = &Error{Code: CodeDataNotFound}
	ErrDuplicateValue     = &Error{Code: CodeDuplicateValue}
	ErrInvalidAuthHeader  = &Error{Code: CodeInvalidAuthHeader}
	ErrOperationForbidden = &Error{Code: CodeOperationForbidden}
)

// ErrBackPressure is returned by the InBackground variants when the
// executor's shard queue stays full.
var ErrBackPressure = shardqueue.ErrQueueFull

// IsBackPressure reports whether err is a back-pressure error.
func IsBackPressure(err error) bool { return errors.Is(err, ErrBackPressure) }

// IsCode reports whether err is an *Error carrying code.
func IsCode(err error, code string) bool { return ncmberrors.IsCode(err, code) }

// CodeOf returns the NCMB code of err or "".
func CodeOf(err error) string { return ncmberrors.CodeOf(err) }
