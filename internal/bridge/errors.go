package bridge

import (
	"errors"

	"github.com/acpbridge/acpbridge/internal/jsonrpc"
	"github.com/acpbridge/acpbridge/internal/sandbox"
)

// rpcErrorFrom classifies an internal error into the JSON-RPC error shape
// spec.md §4.8 mandates for each failure condition. Every branch carries
// data.details, per spec.md §4.2 and §7.
func rpcErrorFrom(err error) *jsonrpc.Error {
	if err == nil {
		return nil
	}

	var sandboxErr *sandbox.ErrSandboxViolation
	if errors.As(err, &sandboxErr) {
		return jsonrpc.NewError(jsonrpc.CodeDomainError, "sandbox violation", sandboxErr.Error())
	}

	var notExistErr *sandbox.ErrNotExist
	if errors.As(err, &notExistErr) {
		return jsonrpc.NewError(jsonrpc.CodeDomainError, "file not found", notExistErr.Error())
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return jsonrpc.NewError(jsonrpc.CodeDomainError, domainErr.Message, domainErr.Details)
	}

	return jsonrpc.NewError(jsonrpc.CodeInternalError, "internal error", err.Error())
}

// DomainError is a bridge-classified failure carrying a short message:
// the failure-table names "binary file", "permission denied", "cli
// unavailable" and "agent exited", plus "read failed" and "write failed"
// for other file I/O errors.
type DomainError struct {
	Message string
	Details string
}

func (e *DomainError) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

func errBinaryFile(details string) error {
	return &DomainError{Message: "binary file", Details: details}
}

func errPermissionDenied(details string) error {
	return &DomainError{Message: "permission denied", Details: details}
}

func errCLIUnavailable(details string) error {
	return &DomainError{Message: "cli unavailable", Details: details}
}

func errAgentExited(details string) error {
	return &DomainError{Message: "agent exited", Details: details}
}
