// Package codec reads and writes delimited text records in a configurable
// dialect (delimiter, quote character, quoting policy).
//
// The Decoder is a pull-based, forward-only iterator over Records: each call
// to Next consumes exactly one logical record from the stream, where a quoted
// field may span several physical lines. The Encoder writes one Record per
// call and never flushes; buffering and flushing belong to the caller.
//
// Memory stays bounded by the longest record; no whole-file buffering.
package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// QuotingPolicy controls when fields are quoted.
type QuotingPolicy int

const (
	// QuoteMinimal quotes only fields that would otherwise be ambiguous.
	QuoteMinimal QuotingPolicy = iota
	// QuoteAll quotes every field.
	QuoteAll
	// QuoteNone never quotes. The decoder treats quote characters as data and
	// the encoder rejects fields that cannot be written unquoted.
	QuoteNone
)

// String returns the lower-case policy name used in configuration.
func (p QuotingPolicy) String() string {
	switch p {
	case QuoteMinimal:
		return "minimal"
	case QuoteAll:
		return "all"
	case QuoteNone:
		return "none"
	default:
		return fmt.Sprintf("QuotingPolicy(%d)", int(p))
	}
}

// ParseQuotingPolicy maps a case-insensitive policy name to a QuotingPolicy.
// An empty string yields QuoteMinimal.
func ParseQuotingPolicy(s string) (QuotingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "minimal":
		return QuoteMinimal, nil
	case "all":
		return QuoteAll, nil
	case "none":
		return QuoteNone, nil
	}
	return QuoteMinimal, fmt.Errorf("codec: unknown quoting policy %q (want minimal, all or none)", s)
}

// Line terminators accepted by the Encoder.
const (
	CRLF = "\r\n"
	LF   = "\n"
)

// Dialect describes the syntax of a delimited text file. A Dialect is a
// plain value; copies are independent.
type Dialect struct {
	// Delimiter separates fields within a record.
	Delimiter rune
	// Quote starts and ends a quoted field. Doubled inside a quoted field it
	// stands for one literal quote.
	Quote rune
	// Quoting selects the quoting policy.
	Quoting QuotingPolicy
	// LineTerminator ends every encoded record. Empty means CRLF. The decoder
	// accepts LF, CRLF and bare CR regardless of this value.
	LineTerminator string
	// Strict makes the decoder reject a quote character inside an unquoted
	// field and any data between a closing quote and the next delimiter.
	// When false both are kept as literal characters.
	Strict bool
}

// TSV is the tab-separated dialect used for source files by default.
var TSV = Dialect{Delimiter: '\t', Quote: '"', Quoting: QuoteMinimal, LineTerminator: CRLF}

// CSV is the comma-separated dialect used for target files by default.
var CSV = Dialect{Delimiter: ',', Quote: '"', Quoting: QuoteMinimal, LineTerminator: CRLF}

// Validate reports the first structural problem with d, or nil.
func (d Dialect) Validate() error {
	if err := validSeparator("delimiter", d.Delimiter); err != nil {
		return err
	}
	if err := validSeparator("quote", d.Quote); err != nil {
		return err
	}
	if d.Delimiter == d.Quote {
		return fmt.Errorf("codec: delimiter and quote must differ (both %q)", d.Delimiter)
	}
	switch d.Quoting {
	case QuoteMinimal, QuoteAll, QuoteNone:
	default:
		return fmt.Errorf("codec: invalid quoting policy %d", int(d.Quoting))
	}
	switch d.LineTerminator {
	case "", CRLF, LF:
	default:
		return fmt.Errorf("codec: unsupported line terminator %q (want \\r\\n or \\n)", d.LineTerminator)
	}
	return nil
}

func (d Dialect) terminator() string {
	if d.LineTerminator == "" {
		return CRLF
	}
	return d.LineTerminator
}

func validSeparator(name string, r rune) error {
	switch {
	case r == 0:
		return fmt.Errorf("codec: %s must be set", name)
	case r == '\r' || r == '\n':
		return fmt.Errorf("codec: %s must not be a line terminator", name)
	case r == utf8.RuneError || !utf8.ValidRune(r):
		return fmt.Errorf("codec: %s %q is not a valid character", name, r)
	}
	return nil
}

// ParseChar turns a configuration value into a single character. Besides a
// literal one-character string it accepts the escapes `\t` and `\\`, and the
// names tab, comma, pipe, semicolon and space.
func ParseChar(s string) (rune, error) {
	switch strings.ToLower(s) {
	case `\t`, "tab":
		return '\t', nil
	case `\\`:
		return '\\', nil
	case "comma":
		return ',', nil
	case "pipe":
		return '|', nil
	case "semicolon":
		return ';', nil
	case "space":
		return ' ', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("codec: %q must be exactly one character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
