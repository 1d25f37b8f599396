package roster

import (
	"fmt"
)

// SchemaValidationError is returned when a row would break the roster
// schema. Nothing is written when it occurs.
type SchemaValidationError struct {
	Row    int
	Column string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("roster schema: column %q: %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("roster schema: row %d column %q: %s", e.Row, e.Column, e.Reason)
}

// ReadError reports a malformed input roster.
type ReadError struct {
	Path   string
	Row    int
	Column string
	Err    error
}

func (e *ReadError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "roster"
	}
	switch {
	case e.Row > 0 && e.Column != "":
		return fmt.Sprintf("read %s: row %d column %q: %v", loc, e.Row, e.Column, e.Err)
	case e.Row > 0:
		return fmt.Sprintf("read %s: row %d: %v", loc, e.Row, e.Err)
	default:
		return fmt.Sprintf("read %s: %v", loc, e.Err)
	}
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
