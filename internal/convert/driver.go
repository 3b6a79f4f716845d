package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"delimconv/internal/codec"
	"delimconv/internal/datasource"
	"delimconv/internal/datasource/file"
	"delimconv/internal/textenc"
)

const writeBufferSize = 64 * 1024

// Driver converts jobs one at a time. The zero value is usable: it reads
// and writes local files, discards progress text and uses time.Now.
type Driver struct {
	// Progress receives one rendered line per progress message.
	Progress io.Writer
	// OnProgress, when set, is called with every message's snapshot.
	OnProgress func(Snapshot)
	// Clock returns the current time.
	Clock func() time.Time

	// Sources and Sinks map paths to endpoints. Nil means file.NewLocal.
	Sources func(path string) datasource.Source
	Sinks   func(path string) datasource.Sink
}

// NewDriver returns a Driver printing progress to stdout.
func NewDriver() *Driver {
	return &Driver{Progress: os.Stdout, Clock: time.Now}
}

// Convert streams job.Source into job.Target.
//
// The context is checked only before the files are opened; once records
// are flowing the conversion runs to the end of the source or to the first
// error. The target is created before the source is opened. On failure the
// rows converted so far are flushed and left in place, Result.Success is
// false and no final progress message is emitted.
func (d *Driver) Convert(ctx context.Context, job Job) Result {
	res := Result{Source: job.Source, Target: job.Target}

	tmpl, err := job.prepare()
	if err != nil {
		res.Err = err
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	out, err := d.sink(job.Target).Create(ctx)
	if err != nil {
		res.Err = &IOError{Op: "create", Path: job.Target, Err: err}
		return res
	}
	in, err := d.source(job.Source).Open(ctx)
	if err != nil {
		_ = out.Close()
		res.Err = &IOError{Op: "open", Path: job.Source, Err: err}
		return res
	}
	defer in.Close()

	sum := newChecksumWriter(out)
	tw, err := textenc.NewWriter(sum, job.TargetEncoding)
	if err != nil {
		_ = out.Close()
		res.Err = &ConfigError{Err: err}
		return res
	}
	rd, err := textenc.NewReader(in, job.SourceEncoding, job.NormalizeNFC)
	if err != nil {
		_ = out.Close()
		res.Err = &ConfigError{Err: err}
		return res
	}
	bw := bufio.NewWriterSize(tw, writeBufferSize)
	enc := codec.NewEncoder(bw, job.TargetDialect)
	dec := codec.NewDecoder(rd, job.SourceDialect)

	start := d.now()
	interval := int64(job.FlushInterval)
	var rows int64
	var runErr error
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			runErr = d.readError(job, err)
			break
		}
		if err := enc.Encode(rec); err != nil {
			runErr = d.writeError(job, rows, err)
			break
		}
		rows++
		if rows%interval == 0 {
			if err := bw.Flush(); err != nil {
				runErr = &IOError{Op: "flush", Path: job.Target, Err: err}
				break
			}
			d.emit(tmpl, Snapshot{File: job.Source, Rows: rows, Elapsed: d.now().Sub(start)})
		}
	}

	// Whatever was converted stays in the target, even after a failure.
	if err := bw.Flush(); err != nil && runErr == nil {
		runErr = &IOError{Op: "flush", Path: job.Target, Err: err}
	}
	if err := tw.Close(); err != nil && runErr == nil {
		runErr = &IOError{Op: "write", Path: job.Target, Err: err}
	}
	if err := out.Close(); err != nil && runErr == nil {
		runErr = &IOError{Op: "close", Path: job.Target, Err: err}
	}

	res.Rows = rows
	res.Elapsed = d.now().Sub(start)
	res.Checksum = sum.Sum()
	res.BytesWritten = sum.n
	if runErr != nil {
		res.Err = runErr
		return res
	}
	res.Success = true
	d.emit(tmpl, Snapshot{File: job.Source, Rows: rows, Elapsed: res.Elapsed, Final: true})
	return res
}

func (d *Driver) readError(job Job, err error) error {
	var mre *codec.MalformedRecordError
	if errors.As(err, &mre) {
		return fmt.Errorf("decode %s: %w", job.Source, err)
	}
	return &IOError{Op: "read", Path: job.Source, Err: err}
}

func (d *Driver) writeError(job Job, rows int64, err error) error {
	var ee *codec.EncodeError
	if errors.As(err, &ee) {
		return fmt.Errorf("encode %s row %d: %w", job.Target, rows+1, err)
	}
	return &IOError{Op: "write", Path: job.Target, Err: err}
}

func (d *Driver) emit(t *Template, snap Snapshot) {
	if d.Progress != nil {
		fmt.Fprintln(d.Progress, t.Render(snap))
	}
	if d.OnProgress != nil {
		d.OnProgress(snap)
	}
}

func (d *Driver) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *Driver) source(path string) datasource.Source {
	if d.Sources != nil {
		return d.Sources(path)
	}
	return file.NewLocal(path)
}

func (d *Driver) sink(path string) datasource.Sink {
	if d.Sinks != nil {
		return d.Sinks(path)
	}
	return file.NewLocal(path)
}
