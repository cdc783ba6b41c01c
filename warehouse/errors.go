package warehouse

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange         = errors.New("invalid range")
	ErrTableNotFound        = errors.New("table not found")
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrDataTypeMismatch     = errors.New("data type mismatch")
	ErrTransientSourceError = errors.New("transient source error")
	ErrTransientSinkError   = errors.New("transient sink error")
)

// InvalidRange is a negative index or chunk size.
type InvalidRange struct {
	Index int64
	Size  int64
}

func (e InvalidRange) Error() string {
	return fmt.Sprintf("invalid range: index %d, size %d", e.Index, e.Size)
}

func (e InvalidRange) Unwrap() error {
	return ErrInvalidRange
}

type TableNotFound struct {
	Table string
	Err   error
}

func (e TableNotFound) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("table %q not found", e.Table)
	}
	return fmt.Sprintf("table %q not found: %v", e.Table, e.Err)
}

func (e TableNotFound) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTableNotFound}
	}
	return []error{ErrTableNotFound, e.Err}
}

// SchemaMismatch is a batch or coercion map that does not fit a table.
type SchemaMismatch struct {
	Table  string
	Column string
	Reason string
	Err    error
}

func (e SchemaMismatch) Error() string {
	msg := fmt.Sprintf("schema mismatch on %s", e.Table)
	if e.Column != "" {
		msg += fmt.Sprintf(" column %s", e.Column)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e SchemaMismatch) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSchemaMismatch}
	}
	return []error{ErrSchemaMismatch, e.Err}
}

// DataTypeMismatch is a value that cannot be converted to its column's target type.
type DataTypeMismatch struct {
	Column string
	Value  any
	Target string
	Err    error
}

func (e DataTypeMismatch) Error() string {
	msg := fmt.Sprintf("column %s: cannot convert %#v (%T) to %s", e.Column, e.Value, e.Value, e.Target)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e DataTypeMismatch) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDataTypeMismatch}
	}
	return []error{ErrDataTypeMismatch, e.Err}
}

// TransientError is a network or service failure the caller may retry.
type TransientError struct {
	Table string
	Sink  bool
	Err   error
}

func (e TransientError) Error() string {
	side := "reading"
	if e.Sink {
		side = "writing"
	}
	return fmt.Sprintf("%s %s: transient failure: %v", side, e.Table, e.Err)
}

func (e TransientError) Unwrap() []error {
	kind := ErrTransientSourceError
	if e.Sink {
		kind = ErrTransientSinkError
	}
	return []error{kind, e.Err}
}

func SourceError(table string, err error) error {
	return TransientError{Table: table, Err: err}
}

func SinkError(table string, err error) error {
	return TransientError{Table: table, Sink: true, Err: err}
}

// IsRetryable reports whether err is worth retrying with backoff. Only
// transient source and sink failures are.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientSourceError) || errors.Is(err, ErrTransientSinkError)
}
