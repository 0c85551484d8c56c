package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for the API boundary.
type Kind string

const (
	KindValidation              Kind = "Validation"
	KindConflict                Kind = "Conflict"
	KindNotFound                Kind = "NotFound"
	KindUnsupported             Kind = "Unsupported"
	KindExecutionFailure        Kind = "ExecutionFailure"
	KindAggregatedDeleteFailure Kind = "AggregatedDeleteFailure"
)

// Error codes carried by *Error.
const (
	CodeInvalidRequest          = "InvalidRequest"
	CodeDuplicateOperation      = "DuplicateOperation"
	CodeOperationNotFound       = "OperationNotFound"
	CodeNoMatchingDatabases     = "NoMatchingDatabases"
	CodeUnsupportedDatabases    = "UnsupportedDatabases"
	CodeExternalDatabases       = "ExternalDatabases"
	CodeBackupNotCompleted      = "BackupNotCompleted"
	CodeDigestMismatch          = "DigestMismatch"
	CodeAggregatedDeleteFailure = "AggregatedDeleteFailure"
	CodeArchiveNotConfigured    = "ArchiveNotConfigured"
	CodeArchivedMetadataMissing = "ArchivedMetadataMissing"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrDuplicateOperation      = &Error{Kind: KindConflict, Code: CodeDuplicateOperation}
	ErrOperationNotFound       = &Error{Kind: KindNotFound, Code: CodeOperationNotFound}
	ErrNoMatchingDatabases     = &Error{Kind: KindExecutionFailure, Code: CodeNoMatchingDatabases}
	ErrUnsupportedDatabases    = &Error{Kind: KindUnsupported, Code: CodeUnsupportedDatabases}
	ErrDigestMismatch          = &Error{Kind: KindValidation, Code: CodeDigestMismatch}
	ErrAggregatedDeleteFailure = &Error{Kind: KindAggregatedDeleteFailure, Code: CodeAggregatedDeleteFailure}
)

// Error is a classified engine error.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
	// Failures maps adapter id to the adapter's error text. Only set for
	// AggregatedDeleteFailure.
	Failures map[string]string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Detail: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return newError(KindValidation, CodeInvalidRequest, format, args...)
}

func notFoundError(kind, name string) *Error {
	return newError(KindNotFound, CodeOperationNotFound, "%s %q not found", kind, name)
}

func deleteFailureError(failures map[string]string) *Error {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("adapter %s: %s", id, failures[id]))
	}
	return &Error{
		Kind:     KindAggregatedDeleteFailure,
		Code:     CodeAggregatedDeleteFailure,
		Detail:   strings.Join(parts, "; "),
		Failures: failures,
	}
}

// KindOf returns the kind of a classified error, or "" for infrastructure
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
