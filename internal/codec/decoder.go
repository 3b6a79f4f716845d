package codec

import (
	"bufio"
	"io"
	"iter"
	"strings"
	"unicode/utf8"
)

// Record is one row's fields in column order.
type Record []string

const defaultBufferSize = 64 * 1024

type decodeState int

const (
	stateFieldStart decodeState = iota // nothing consumed for the current field
	stateUnquoted                      // inside an unquoted field
	stateQuoted                        // inside a quoted field
	stateQuoteInQuoted                 // saw a quote inside a quoted field
)

// Decoder reads Records from a character stream according to a Dialect.
// It is forward-only and not restartable: once Next has returned io.EOF or
// an error, every later call returns the same result.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	br *bufio.Reader
	d  Dialect

	line    int // current physical line, 1-based
	col     int // characters consumed on the current line
	records int // records returned so far

	field strings.Builder
	err   error
}

// NewDecoder returns a Decoder reading from r. The Dialect is copied; its
// LineTerminator is ignored since LF, CRLF and bare CR all end a record.
func NewDecoder(r io.Reader, d Dialect) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, defaultBufferSize)
	}
	return &Decoder{br: br, d: d, line: 1}
}

// Line returns the physical line the decoder is positioned on.
func (dec *Decoder) Line() int { return dec.line }

// Records returns how many records have been decoded so far.
func (dec *Decoder) Records() int { return dec.records }

// Next decodes the next record. It returns io.EOF when the stream is
// exhausted, a *MalformedRecordError on a dialect violation, or the
// underlying read error.
//
// A blank physical line decodes to an empty, non-nil Record.
func (dec *Decoder) Next() (Record, error) {
	if dec.err != nil {
		return nil, dec.err
	}
	rec, err := dec.readRecord()
	if err != nil {
		dec.err = err
		return nil, err
	}
	dec.records++
	return rec, nil
}

// All adapts the Decoder to a range-over-func sequence. Iteration stops after
// the first error, which is yielded with a nil Record; io.EOF is not yielded.
func (dec *Decoder) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := dec.Next()
			if err == io.EOF {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (dec *Decoder) readRecord() (Record, error) {
	var (
		rec       = Record{}
		state     = stateFieldStart
		started   bool
		quoteLine int
		quoteCol  int
		quoting   = dec.d.Quoting != QuoteNone
	)
	dec.field.Reset()

	endField := func() {
		rec = append(rec, dec.field.String())
		dec.field.Reset()
	}

	for {
		r, size, err := dec.br.ReadRune()
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			switch {
			case state == stateQuoted:
				return nil, &MalformedRecordError{
					Record: dec.records + 1,
					Line:   quoteLine,
					Column: quoteCol,
					Err:    ErrUnterminatedQuote,
				}
			case !started:
				return nil, io.EOF
			}
			// Final record without a trailing line terminator.
			endField()
			return rec, nil
		}
		started = true
		dec.col++
		raw := -1
		if r == utf8.RuneError && size == 1 {
			// Invalid UTF-8 passes through byte for byte.
			_ = dec.br.UnreadRune()
			b, _ := dec.br.ReadByte()
			raw = int(b)
		}

		switch state {
		case stateFieldStart:
			switch {
			case quoting && r == dec.d.Quote:
				state = stateQuoted
				quoteLine, quoteCol = dec.line, dec.col
			case r == dec.d.Delimiter:
				endField()
			case r == '\n' || r == '\r':
				// A line with no fields at all is an empty record; otherwise
				// the record ended right after a delimiter.
				if len(rec) > 0 {
					endField()
				}
				dec.endLine(r)
				return rec, nil
			default:
				dec.put(r, raw)
				state = stateUnquoted
			}

		case stateUnquoted:
			switch {
			case r == dec.d.Delimiter:
				endField()
				state = stateFieldStart
			case r == '\n' || r == '\r':
				endField()
				dec.endLine(r)
				return rec, nil
			case quoting && r == dec.d.Quote && dec.d.Strict:
				return nil, dec.bareQuote()
			default:
				dec.put(r, raw)
			}

		case stateQuoted:
			switch r {
			case dec.d.Quote:
				state = stateQuoteInQuoted
			case '\n':
				dec.put(r, raw)
				dec.line++
				dec.col = 0
			case '\r':
				dec.put(r, raw)
				if !dec.peekLF() {
					dec.line++
					dec.col = 0
				}
			default:
				dec.put(r, raw)
			}

		case stateQuoteInQuoted:
			switch {
			case r == dec.d.Quote:
				dec.put(r, raw)
				state = stateQuoted
			case r == dec.d.Delimiter:
				endField()
				state = stateFieldStart
			case r == '\n' || r == '\r':
				endField()
				dec.endLine(r)
				return rec, nil
			case dec.d.Strict:
				return nil, dec.bareQuote()
			default:
				// Lenient: data after a closing quote is kept literally.
				dec.put(r, raw)
				state = stateUnquoted
			}
		}
	}
}

func (dec *Decoder) put(r rune, raw int) {
	if raw >= 0 {
		dec.field.WriteByte(byte(raw))
		return
	}
	dec.field.WriteRune(r)
}

// endLine consumes the LF of a CRLF pair and advances the line counter.
func (dec *Decoder) endLine(r rune) {
	if r == '\r' && dec.peekLF() {
		_, _ = dec.br.ReadByte()
	}
	dec.line++
	dec.col = 0
}

func (dec *Decoder) peekLF() bool {
	b, err := dec.br.Peek(1)
	return err == nil && b[0] == '\n'
}

func (dec *Decoder) bareQuote() error {
	return &MalformedRecordError{
		Record: dec.records + 1,
		Line:   dec.line,
		Column: dec.col,
		Err:    ErrBareQuote,
	}
}
