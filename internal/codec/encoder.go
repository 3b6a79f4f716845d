package codec

import (
	"io"
	"strings"
	"unicode/utf8"
)

// Encoder writes Records to an io.Writer in a target Dialect. Each record
// is assembled in an internal buffer and handed to the writer with a single
// Write call. The Encoder never flushes; wrap the destination in a
// bufio.Writer and flush it when appropriate.
//
// A write error is sticky: every later Encode returns it.
type Encoder struct {
	w   io.Writer
	d   Dialect
	buf []byte
	err error
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, d Dialect) *Encoder {
	return &Encoder{w: w, d: d, buf: make([]byte, 0, 256)}
}

// Encode writes rec followed by the dialect's line terminator. An empty
// record is written as a bare line terminator.
//
// Under QuoteNone a field that contains the delimiter, the quote character
// or a line break is rejected with an *EncodeError wrapping
// ErrFieldNeedsQuoting; nothing of that record is written.
func (e *Encoder) Encode(rec Record) error {
	if e.err != nil {
		return e.err
	}

	e.buf = e.buf[:0]
	for i, field := range rec {
		if i > 0 {
			e.buf = utf8.AppendRune(e.buf, e.d.Delimiter)
		}
		quote, err := e.needsQuote(field, len(rec))
		if err != nil {
			return &EncodeError{Field: i, Err: err}
		}
		if quote {
			e.appendQuoted(field)
		} else {
			e.buf = append(e.buf, field...)
		}
	}
	e.buf = append(e.buf, e.d.terminator()...)

	if _, err := e.w.Write(e.buf); err != nil {
		e.err = err
		return err
	}
	return nil
}

// Err returns the first write error, if any.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) needsQuote(field string, width int) (bool, error) {
	special := strings.ContainsRune(field, e.d.Delimiter) ||
		strings.ContainsRune(field, e.d.Quote) ||
		strings.ContainsAny(field, "\r\n")

	switch e.d.Quoting {
	case QuoteAll:
		return true, nil
	case QuoteNone:
		if special {
			return false, ErrFieldNeedsQuoting
		}
		return false, nil
	default:
		// A record made of a single empty field is quoted so it does not
		// read back as an empty record.
		return special || (width == 1 && field == ""), nil
	}
}

func (e *Encoder) appendQuoted(field string) {
	e.buf = utf8.AppendRune(e.buf, e.d.Quote)
	for {
		i := strings.IndexRune(field, e.d.Quote)
		if i < 0 {
			break
		}
		q := utf8.RuneLen(e.d.Quote)
		e.buf = append(e.buf, field[:i+q]...)
		e.buf = utf8.AppendRune(e.buf, e.d.Quote)
		field = field[i+q:]
	}
	e.buf = append(e.buf, field...)
	e.buf = utf8.AppendRune(e.buf, e.d.Quote)
}
