// Package textenc adapts source and target byte streams to and from UTF-8.
//
// Dialect handling in the codec works on UTF-8 text. Files in other IANA
// charsets (windows-1250, iso-8859-2, utf-16le, ...) are decoded on the way
// in and encoded on the way out with golang.org/x/text transformers, so
// neither side is ever buffered whole.
package textenc

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Default is the charset assumed when none is configured.
const Default = "utf-8"

// IsUTF8 reports whether name denotes UTF-8 (or is empty).
func IsUTF8(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// Lookup resolves an IANA charset name. It returns a nil Encoding for UTF-8,
// which needs no transcoding.
func Lookup(name string) (encoding.Encoding, error) {
	if IsUTF8(name) {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("textenc: unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("textenc: charset %q is not supported", name)
	}
	return enc, nil
}

// NewReader returns a reader that yields UTF-8 text decoded from r.
//
// A leading byte order mark is consumed and, for UTF-16 marks, overrides the
// configured charset. Invalid UTF-8 in a UTF-8 source without a byte order
// mark passes through unchanged. When nfc is set the text is also normalized
// to NFC.
func NewReader(r io.Reader, charset string, nfc bool) (io.Reader, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return nil, err
	}

	var fallback transform.Transformer = transform.Nop
	if enc != nil {
		fallback = enc.NewDecoder()
	}
	t := unicode.BOMOverride(fallback)
	if nfc {
		t = transform.Chain(t, norm.NFC)
	}
	return transform.NewReader(r, t), nil
}

// NewWriter returns a writer that encodes UTF-8 text into charset before
// passing it to w. A character the charset cannot represent fails the write
// rather than being replaced. Close must be called to flush any partially
// encoded input; it does not close w.
func NewWriter(w io.Writer, charset string) (io.WriteCloser, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nopCloser{w}, nil
	}
	return transform.NewWriter(w, enc.NewEncoder()), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
