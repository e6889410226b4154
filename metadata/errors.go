package metadata

import (
	"fmt"

	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

// DecodeError reports a malformed metadata payload: the offending name,
// the expected shape and what was found instead.
type DecodeError struct {
	Name     string
	Expected string
	Actual   string
	// Line is the 1-based source line, when known.
	Line int
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("metadata %s (line %d): expected %s, got %s", e.Name, e.Line, e.Expected, e.Actual)
	}

	return fmt.Sprintf("metadata %s: expected %s, got %s", e.Name, e.Expected, e.Actual)
}

func (e *DecodeError) Unwrap() error { return berr.ErrInvalidMetadata }
