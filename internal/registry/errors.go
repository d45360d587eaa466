package registry

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure modes a registry operation can
// report. The HTTP layer maps each kind to a status code with an
// exhaustive switch.
type Kind int

const (
	// KindInvalidLocation: create failed because no openable index
	// exists at the requested location.
	KindInvalidLocation Kind = iota

	// KindNotFound: the named index has no open handle.
	KindNotFound

	// KindReservedName: create or remove attempted on the meta-name.
	KindReservedName

	// KindEngineFailure: the search engine failed during a query.
	KindEngineFailure

	// KindStorage: the location cache failed to read or write.
	KindStorage
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInvalidLocation:
		return "invalid location"
	case KindNotFound:
		return "not found"
	case KindReservedName:
		return "reserved name"
	case KindEngineFailure:
		return "engine failure"
	case KindStorage:
		return "storage failure"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by registry operations.
type Error struct {
	Kind Kind
	Name string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Name)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind, so errors.Is works against a bare
// &Error{Kind: ...} target.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, name string, err error) *Error {
	return &Error{Kind: kind, Name: name, Err: err}
}

// KindOf extracts the kind from a registry error. The second return
// is false when err is not a registry Error.
func KindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}
