package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnterminatedQuote is returned when the stream ends inside a quoted field.
	ErrUnterminatedQuote = errors.New("codec: unterminated quoted field")
	// ErrBareQuote is returned in strict mode for a quote character in an
	// unquoted field, or for data following a closing quote.
	ErrBareQuote = errors.New("codec: bare quote in non-quoted field")
	// ErrFieldNeedsQuoting is returned by the Encoder under QuoteNone when a
	// field contains the delimiter, the quote character or a line break.
	ErrFieldNeedsQuoting = errors.New("codec: field needs quoting but quoting policy is none")
)

// MalformedRecordError reports a record that violates the source dialect.
// Line and Column (both 1-based, Column counted in characters) locate the
// offending quote: the opening quote of an unterminated field, or the stray
// quote in strict mode. Record is the 1-based index of the failing record.
type MalformedRecordError struct {
	Record int
	Line   int
	Column int
	Err    error
}

// Error formats the error with its position.
func (e *MalformedRecordError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("codec: malformed record %d at line %d, column %d: %v", e.Record, e.Line, e.Column, e.Err)
}

// Unwrap returns the underlying cause so errors.Is works against the sentinels.
func (e *MalformedRecordError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// EncodeError reports a field the Encoder could not write.
type EncodeError struct {
	Field int // 0-based field index within the record
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("codec: encode field %d: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
