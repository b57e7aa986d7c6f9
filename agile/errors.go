package agile

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable identifier of a failure, safe to show to callers verbatim.
type ErrorKind string

const (
	KindDuplicateColumnName     ErrorKind = "DuplicateColumnName"
	KindInvalidDestination      ErrorKind = "InvalidDestination"
	KindCrossBoardMoveForbidden ErrorKind = "CrossBoardMoveForbidden"
	KindInvalidInput            ErrorKind = "InvalidInput"
	KindColumnNotEmpty          ErrorKind = "ColumnNotEmpty"
	KindSprintAlreadyActive     ErrorKind = "SprintAlreadyActive"
	KindInvalidState            ErrorKind = "InvalidState"
	KindNotFound                ErrorKind = "NotFound"
	KindForbidden               ErrorKind = "Forbidden"
	KindStorage                 ErrorKind = "StorageFailure"
)

// Category groups error kinds by how the caller is expected to react.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryConflict   Category = "conflict"
	CategoryNotFound   Category = "not_found"
	CategoryForbidden  Category = "forbidden"
	CategorySystemic   Category = "systemic"
)

// Category returns the group the kind belongs to.
func (k ErrorKind) Category() Category {
	switch k {
	case KindDuplicateColumnName, KindInvalidDestination, KindCrossBoardMoveForbidden, KindInvalidInput:
		return CategoryValidation
	case KindColumnNotEmpty, KindSprintAlreadyActive, KindInvalidState:
		return CategoryConflict
	case KindNotFound:
		return CategoryNotFound
	case KindForbidden:
		return CategoryForbidden
	}
	return CategorySystemic
}

// Error is the typed failure returned by every engine operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

var (
	ErrDuplicateColumnName     = &Error{Kind: KindDuplicateColumnName}
	ErrInvalidDestination      = &Error{Kind: KindInvalidDestination}
	ErrCrossBoardMoveForbidden = &Error{Kind: KindCrossBoardMoveForbidden}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrColumnNotEmpty          = &Error{Kind: KindColumnNotEmpty}
	ErrSprintAlreadyActive     = &Error{Kind: KindSprintAlreadyActive}
	ErrInvalidState            = &Error{Kind: KindInvalidState}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrForbidden               = &Error{Kind: KindForbidden}
	ErrStorage                 = &Error{Kind: KindStorage}
)

// KindOf extracts the kind of err. Untyped errors are reported as storage failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

func newError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity. Stores use it so the engine can tell absence
// from storage failure.
func NotFoundError(entity, id string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s %s not found", entity, id)}
}

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// withOp stamps the operation name on typed errors and wraps anything else as a storage failure.
func withOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" {
			return err
		}
		cp := *e
		cp.Op = op
		return &cp
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}
