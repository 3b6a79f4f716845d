package convert

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultTemplate renders e.g. "in/a.tsv: 100,000 rows in 1.25 secs at 80,000 rows/sec".
const DefaultTemplate = "{file}: {rows} rows in {elapsed} secs at {rate} rows/sec"

// Snapshot is the state reported by one progress message.
type Snapshot struct {
	File    string
	Rows    int64
	Elapsed time.Duration
	// Final marks the message emitted after the last record.
	Final bool
}

// Rate returns rows per second, or Rows when no time has elapsed.
func (s Snapshot) Rate() float64 { return rate(s.Rows, s.Elapsed) }

// Template arguments, in positional order.
const (
	argFile = iota
	argRows
	argElapsed
	argRate
	numArgs
)

var argNames = map[string]int{"file": argFile, "rows": argRows, "elapsed": argElapsed, "rate": argRate}

// Defaults applied when a placeholder carries no format spec.
var argDefaults = [numArgs]spec{
	argFile:    {prec: -1},
	argRows:    {group: true, prec: 0},
	argElapsed: {prec: 2},
	argRate:    {group: true, prec: 0},
}

type spec struct {
	group bool
	prec  int // digits after the decimal point; -1 for strings
}

type segment struct {
	lit string
	arg int // -1 for literal segments
	sp  spec
}

// Template is a compiled progress message format.
//
// Placeholders are written in braces and refer to the file name, the row
// count, the elapsed seconds and the throughput, either by name ({file},
// {rows}, {elapsed}, {rate}) or by position ({}, {0} ... {3}). An optional
// spec after a colon controls number formatting: "," groups thousands and
// ".N" sets the decimals, so "{:s}: {:,.0f} rows in {:.2f} secs at {:,.0f}
// rows/sec" works as well. "{{" and "}}" are literal braces.
type Template struct {
	segs []segment
}

// ParseTemplate compiles s. An empty s compiles DefaultTemplate.
func ParseTemplate(s string) (*Template, error) {
	if s == "" {
		s = DefaultTemplate
	}
	t := &Template{}
	var lit strings.Builder
	next := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '}':
			return nil, fmt.Errorf("progress template: unmatched '}' at offset %d", i)
		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("progress template: unclosed '{' at offset %d", i)
			}
			seg, err := parsePlaceholder(s[i+1:i+end], &next)
			if err != nil {
				return nil, fmt.Errorf("progress template: %w", err)
			}
			if lit.Len() > 0 {
				t.segs = append(t.segs, segment{lit: lit.String(), arg: -1})
				lit.Reset()
			}
			t.segs = append(t.segs, seg)
			i += end
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		t.segs = append(t.segs, segment{lit: lit.String(), arg: -1})
	}
	return t, nil
}

func parsePlaceholder(body string, next *int) (segment, error) {
	name, format, hasSpec := strings.Cut(body, ":")
	var arg int
	switch {
	case name == "":
		arg = *next
		*next++
	case name[0] >= '0' && name[0] <= '9':
		n, err := strconv.Atoi(name)
		if err != nil {
			return segment{}, fmt.Errorf("bad placeholder index %q", name)
		}
		arg = n
	default:
		idx, ok := argNames[name]
		if !ok {
			return segment{}, fmt.Errorf("unknown placeholder {%s} (want file, rows, elapsed or rate)", name)
		}
		arg = idx
	}
	if arg < 0 || arg >= numArgs {
		return segment{}, fmt.Errorf("placeholder index %d out of range", arg)
	}

	sp := argDefaults[arg]
	if hasSpec {
		var err error
		if sp, err = parseSpec(format, arg); err != nil {
			return segment{}, err
		}
	}
	return segment{arg: arg, sp: sp}, nil
}

// parseSpec understands [,][.N][s|d|f].
func parseSpec(format string, arg int) (spec, error) {
	sp := spec{prec: argDefaults[arg].prec}
	rest := format
	if strings.HasPrefix(rest, ",") {
		sp.group = true
		rest = rest[1:]
	}
	if strings.HasPrefix(rest, ".") {
		j := 1
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		n, err := strconv.Atoi(rest[1:j])
		if err != nil {
			return spec{}, fmt.Errorf("bad precision in spec %q", format)
		}
		sp.prec = n
		rest = rest[j:]
	}
	switch rest {
	case "", "s", "d", "f":
	default:
		return spec{}, fmt.Errorf("unsupported format spec %q", format)
	}
	if arg == argFile {
		sp.prec = -1
	} else if sp.prec < 0 {
		sp.prec = 0
	}
	return sp, nil
}

// Render formats snap.
func (t *Template) Render(snap Snapshot) string {
	vals := [numArgs]float64{
		argRows:    float64(snap.Rows),
		argElapsed: snap.Elapsed.Seconds(),
		argRate:    snap.Rate(),
	}
	var b strings.Builder
	for _, seg := range t.segs {
		if seg.arg < 0 {
			b.WriteString(seg.lit)
			continue
		}
		if seg.arg == argFile {
			b.WriteString(snap.File)
			continue
		}
		b.WriteString(formatNumber(vals[seg.arg], seg.sp))
	}
	return b.String()
}

func formatNumber(v float64, sp spec) string {
	if !sp.group {
		return strconv.FormatFloat(v, 'f', sp.prec, 64)
	}
	if sp.prec == 0 {
		return humanize.Comma(int64(math.Round(v)))
	}
	s := strconv.FormatFloat(v, 'f', sp.prec, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	n, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return s
	}
	return humanize.Comma(n) + "." + frac
}
