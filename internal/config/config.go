// Package config defines the configuration model of a conversion run. A Run
// can be decoded from JSON or YAML, is completed against defaults by a
// Builder and is then passed by value into the batch runner; nothing in the
// program reads configuration from globals.
//
// Example (YAML):
//
//	source:
//	  path: ~/Desktop/TSVs/
//	  extension: .tsv
//	  delimiter: '\t'
//	target:
//	  path: ~/Desktop/CSVs/
//	  extension: .csv
//	  delimiter: ','
//	runtime:
//	  flush_interval: 100000
//	ledger:
//	  kind: sqlite
//	  dsn: runs.db
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"delimconv/internal/codec"
)

// Run is the top-level configuration object.
type Run struct {
	// Job labels metrics and ledger entries.
	Job string `json:"job" yaml:"job"`

	Source  Source        `json:"source" yaml:"source"`
	Target  Target        `json:"target" yaml:"target"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
	Metrics Metrics       `json:"metrics" yaml:"metrics"`
	Ledger  Ledger        `json:"ledger" yaml:"ledger"`
}

// Endpoint holds the settings shared by the source and the target side.
type Endpoint struct {
	// Path is a directory. A leading "~" is expanded by the runner.
	Path string `json:"path" yaml:"path"`
	// Extension selects source files (case-insensitively) or names target files.
	Extension string `json:"extension" yaml:"extension"`
	// Delimiter and QuoteChar are single characters; see codec.ParseChar for
	// the accepted spellings.
	Delimiter string `json:"delimiter" yaml:"delimiter"`
	QuoteChar string `json:"quote_char" yaml:"quote_char"`
	// Quoting is minimal, all or none.
	Quoting string `json:"quoting" yaml:"quoting"`
	// Encoding is an IANA charset name.
	Encoding string `json:"encoding" yaml:"encoding"`
}

// Source configures the input side.
type Source struct {
	Endpoint `yaml:",inline"`

	// List names a file listing source paths, one per line. When set it
	// replaces discovery under Path.
	List string `json:"list" yaml:"list"`
	// Strict rejects stray quote characters instead of keeping them.
	Strict bool `json:"strict" yaml:"strict"`
	// NormalizeNFC normalizes decoded text to Unicode NFC.
	NormalizeNFC bool `json:"normalize_nfc" yaml:"normalize_nfc"`
}

// Target configures the output side.
type Target struct {
	Endpoint `yaml:",inline"`

	// LineTerminator is "\r\n" or "\n". JSON and YAML files may spell it
	// "crlf" or "lf".
	LineTerminator string `json:"line_terminator" yaml:"line_terminator"`
}

// RuntimeConfig controls how files are processed.
type RuntimeConfig struct {
	FlushInterval    int    `json:"flush_interval" yaml:"flush_interval"`
	ProgressTemplate string `json:"progress_template" yaml:"progress_template"`
	// StopAfterFirst ends the run after the first matched file.
	StopAfterFirst bool `json:"stop_after_first" yaml:"stop_after_first"`
	Verbose        bool `json:"verbose" yaml:"verbose"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is none, pushgateway or datadog.
	Backend        string `json:"backend" yaml:"backend"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr" yaml:"datadog_addr"`
}

// Ledger selects where per-file results are persisted. An empty Kind
// disables the ledger.
type Ledger struct {
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`
	// Options is interpreted by the ledger implementation (e.g. "table").
	Options Options `json:"options" yaml:"options"`
}

// Defaults returns the configuration used when nothing else is set. It
// converts ~/Desktop/TSVs/*.tsv into ~/Desktop/CSVs/*.csv.
func Defaults() Run {
	return Run{
		Job: "delimconv",
		Source: Source{Endpoint: Endpoint{
			Path:      "~/Desktop/TSVs/",
			Extension: ".tsv",
			Delimiter: `\t`,
			QuoteChar: `"`,
			Quoting:   "minimal",
			Encoding:  "utf-8",
		}},
		Target: Target{
			Endpoint: Endpoint{
				Path:      "~/Desktop/CSVs/",
				Extension: ".csv",
				Delimiter: ",",
				QuoteChar: `"`,
				Quoting:   "minimal",
				Encoding:  "utf-8",
			},
			LineTerminator: codec.CRLF,
		},
		Runtime: RuntimeConfig{
			FlushInterval:    100000,
			ProgressTemplate: "{file}: {rows} rows in {elapsed} secs at {rate} rows/sec",
		},
		Metrics: Metrics{Backend: "none"},
	}
}

// SourceDialect builds the decoding dialect.
func (r Run) SourceDialect() (codec.Dialect, error) {
	d, err := r.Source.dialect()
	if err != nil {
		return codec.Dialect{}, fmt.Errorf("source: %w", err)
	}
	d.Strict = r.Source.Strict
	return d, d.Validate()
}

// TargetDialect builds the encoding dialect.
func (r Run) TargetDialect() (codec.Dialect, error) {
	d, err := r.Target.dialect()
	if err != nil {
		return codec.Dialect{}, fmt.Errorf("target: %w", err)
	}
	if d.LineTerminator, err = ParseLineTerminator(r.Target.LineTerminator); err != nil {
		return codec.Dialect{}, fmt.Errorf("target: %w", err)
	}
	return d, d.Validate()
}

func (e Endpoint) dialect() (codec.Dialect, error) {
	delim, err := codec.ParseChar(e.Delimiter)
	if err != nil {
		return codec.Dialect{}, fmt.Errorf("delimiter: %w", err)
	}
	quote, err := codec.ParseChar(e.QuoteChar)
	if err != nil {
		return codec.Dialect{}, fmt.Errorf("quote_char: %w", err)
	}
	q, err := codec.ParseQuotingPolicy(e.Quoting)
	if err != nil {
		return codec.Dialect{}, err
	}
	return codec.Dialect{Delimiter: delim, Quote: quote, Quoting: q}, nil
}

// ParseLineTerminator accepts "\r\n", "\n", their escaped spellings, "crlf"
// and "lf". Empty selects CRLF.
func ParseLineTerminator(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", codec.CRLF, `\r\n`, "crlf":
		return codec.CRLF, nil
	case codec.LF, `\n`, "lf":
		return codec.LF, nil
	}
	return "", fmt.Errorf("unknown line terminator %q (want crlf or lf)", s)
}

// Options is a free-form settings bag. Values decoded from JSON arrive as
// float64 and from YAML as int; the accessors accept both.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if s, ok := o[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Int returns the integer value for key or def.
func (o Options) Int(key string, def int) int {
	switch n := o[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// UnmarshalJSON decodes a missing or null object to an empty, non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
