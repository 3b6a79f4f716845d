// Package convert streams one delimited source file into one target file in
// a different dialect.
//
// A Driver pulls records from a codec.Decoder and pushes each straight into
// a codec.Encoder; at most one record is in flight. Every FlushInterval rows
// the buffered target is flushed and a progress line is emitted, and a final
// line follows the last record. A failure stops the file where it happened
// and leaves whatever was converted before it in the target.
package convert

import (
	"errors"
	"fmt"
	"time"

	"delimconv/internal/codec"
	"delimconv/internal/textenc"
)

// DefaultFlushInterval is the row count between flushes when none is set.
const DefaultFlushInterval = 100000

// Job is a fully resolved conversion of one source file into one target
// file. It is a value; the Driver never modifies it.
type Job struct {
	Source string
	Target string

	SourceDialect codec.Dialect
	TargetDialect codec.Dialect

	// SourceEncoding and TargetEncoding are IANA charset names; empty means UTF-8.
	SourceEncoding string
	TargetEncoding string
	// NormalizeNFC normalizes decoded source text to Unicode NFC.
	NormalizeNFC bool

	// FlushInterval is the number of rows between flushes and progress
	// messages. It must be positive.
	FlushInterval int
	// ProgressTemplate formats progress messages; see ParseTemplate.
	// Empty selects DefaultTemplate.
	ProgressTemplate string
}

// Validate checks the job's configuration without touching the filesystem.
func (j Job) Validate() error {
	_, err := j.prepare()
	return err
}

func (j Job) prepare() (*Template, error) {
	var errs []error
	if j.Source == "" {
		errs = append(errs, errors.New("source path is empty"))
	}
	if j.Target == "" {
		errs = append(errs, errors.New("target path is empty"))
	}
	if j.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush interval must be > 0, got %d", j.FlushInterval))
	}
	if err := j.SourceDialect.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("source dialect: %w", err))
	}
	if err := j.TargetDialect.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("target dialect: %w", err))
	}
	if _, err := textenc.Lookup(j.SourceEncoding); err != nil {
		errs = append(errs, fmt.Errorf("source encoding: %w", err))
	}
	if _, err := textenc.Lookup(j.TargetEncoding); err != nil {
		errs = append(errs, fmt.Errorf("target encoding: %w", err))
	}
	tmpl, err := ParseTemplate(j.ProgressTemplate)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, &ConfigError{Err: errors.Join(errs...)}
	}
	return tmpl, nil
}

// Result is the outcome of one Job.
type Result struct {
	Source string
	Target string

	// Rows is the number of records written to the target. For a successful
	// job it equals the number of records decoded from the source.
	Rows    int64
	Elapsed time.Duration
	Success bool
	Err     error

	// Checksum is the hex xxh3-64 digest of the bytes written to the target.
	Checksum     string
	BytesWritten int64
}

// ElapsedSeconds returns Elapsed in seconds.
func (r Result) ElapsedSeconds() float64 { return r.Elapsed.Seconds() }

// Throughput returns rows per second, or Rows when no time elapsed.
func (r Result) Throughput() float64 { return rate(r.Rows, r.Elapsed) }

func rate(rows int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return float64(rows)
	}
	return float64(rows) / elapsed.Seconds()
}

// ConfigError reports a Job that cannot run as configured.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return "convert: invalid job: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// IOError reports a failed open, create, read, write, flush or close.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("convert: %s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }
