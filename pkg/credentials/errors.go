package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a credential value that is not a valid header value.
	ErrMalformed = errors.New("malformed authorization value")
	// ErrInvalidResult reports a Source that returned a zero Result.
	ErrInvalidResult = errors.New("credential source returned no result")
)

// Error wraps every failure to produce an authorization value.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "credentials: " + e.Err.Error()
	}
	return fmt.Sprintf("credentials: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
