package errs

import "errors"

// Error kinds. Callers match on these with errors.Is; domain packages build
// their own named errors on top of them with New.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrValidation          = errors.New("validation failure")
	ErrQueueUnavailable    = errors.New("queue unavailable")
)

// Error is a named domain error that also matches its kind.
type Error struct {
	Kind error
	Msg  string
}

// New returns a domain error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// KindOf returns the kind an error belongs to, or nil when it is not one of ours.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrUpstreamUnavailable, ErrValidation, ErrQueueUnavailable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
