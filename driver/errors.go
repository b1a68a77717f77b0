package driver

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error is returned when a native driver call reports a non-success status.
type Error struct {
	Op   string
	Code Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed with error: %s", e.Op, e.Code)
}

// Check converts a native status into an *Error. It returns nil on Success.
func Check(res Result, op string) error {
	if res == Success {
		return nil
	}
	return &Error{Op: op, Code: res}
}

// IsResult reports whether err carries a driver error with the given code.
func IsResult(err error, code Result) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
