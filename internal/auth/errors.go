package auth

import "fmt"

// Kind classifies failures so the transport layer can map them to status codes.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindInvalidCredential
	KindForbidden
	KindExpired
	KindInvalidToken
	KindMismatch
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindForbidden:
		return "forbidden"
	case KindExpired:
		return "expired"
	case KindInvalidToken:
		return "invalid_token"
	case KindMismatch:
		return "mismatch"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// Error is returned by Service operations. Two errors are equal under
// errors.Is when their kinds match, so callers compare against the sentinels
// below while Message carries the user-facing text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Err)
	}
	return "auth: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "already exists"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential, Message: "invalid credentials"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrExpired           = &Error{Kind: KindExpired, Message: "expired"}
	ErrInvalidToken      = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	ErrMismatch          = &Error{Kind: KindMismatch, Message: "values do not match"}
	ErrDependency        = &Error{Kind: KindDependency, Message: "dependency failure"}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func dependency(msg string, err error) *Error {
	return &Error{Kind: KindDependency, Message: msg, Err: err}
}

// KindOf reports the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

// MessageOf returns the user-facing message carried by err.
func MessageOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Message
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "internal error"
}
