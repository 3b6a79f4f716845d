package convert

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"delimconv/internal/codec"
	"delimconv/internal/datasource"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return epoch }

// newJob writes src into a temp dir and returns a TSV->CSV job for it.
func newJob(t *testing.T, src string) Job {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tsv")
	if err := os.WriteFile(in, []byte(src), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return Job{
		Source:        in,
		Target:        filepath.Join(dir, "in.csv"),
		SourceDialect: codec.TSV,
		TargetDialect: codec.CSV,
		FlushInterval: DefaultFlushInterval,
	}
}

func run(t *testing.T, job Job) (Result, []Snapshot, string) {
	t.Helper()
	var snaps []Snapshot
	var progress bytes.Buffer
	d := &Driver{
		Progress:   &progress,
		OnProgress: func(s Snapshot) { snaps = append(snaps, s) },
		Clock:      fixedClock,
	}
	res := d.Convert(context.Background(), job)
	return res, snaps, progress.String()
}

func readTarget(t *testing.T, job Job) string {
	t.Helper()
	b, err := os.ReadFile(job.Target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	return string(b)
}

func mustSucceed(t *testing.T, res Result) {
	t.Helper()
	if res.Err != nil || !res.Success {
		t.Fatalf("Convert: success=%v err=%v", res.Success, res.Err)
	}
}

func targetMissing(t *testing.T, job Job) {
	t.Helper()
	if _, err := os.Stat(job.Target); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stat target = %v, want not exist", err)
	}
}

func TestConvert_TabToComma(t *testing.T) {
	t.Parallel()

	job := newJob(t, "a\tb\tc\n1\t2\t3\n")
	res, snaps, progress := run(t, job)

	mustSucceed(t, res)
	if res.Rows != 2 {
		t.Fatalf("Rows = %d, want 2", res.Rows)
	}
	if got := readTarget(t, job); got != "a,b,c\r\n1,2,3\r\n" {
		t.Fatalf("target = %q", got)
	}
	if len(snaps) != 1 || !snaps[0].Final {
		t.Fatalf("snapshots = %+v, want one final", snaps)
	}
	if want := job.Source + ": 2 rows in 0.00 secs at 2 rows/sec\n"; progress != want {
		t.Fatalf("progress = %q, want %q", progress, want)
	}
}

func TestConvert_EmbeddedTabIsNotRequoted(t *testing.T) {
	t.Parallel()

	job := newJob(t, "\"x\ty\"\tz\n\"say \"\"hi\"\"\"\tq\n")
	res, _, _ := run(t, job)

	mustSucceed(t, res)
	if got, want := readTarget(t, job), "x\ty,z\r\n\"say \"\"hi\"\"\",q\r\n"; got != want {
		t.Fatalf("target = %q, want %q", got, want)
	}
}

func TestConvert_FlushIntervalMessages(t *testing.T) {
	t.Parallel()

	job := newJob(t, strings.Repeat("1\t2\n", 250000))
	job.FlushInterval = 100000
	res, snaps, progress := run(t, job)

	mustSucceed(t, res)
	if res.Rows != 250000 {
		t.Fatalf("Rows = %d, want 250000", res.Rows)
	}
	if len(snaps) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snaps))
	}
	for i, want := range []struct {
		rows  int64
		final bool
	}{{100000, false}, {200000, false}, {250000, true}} {
		if snaps[i].Rows != want.rows || snaps[i].Final != want.final {
			t.Fatalf("snapshot %d = %+v, want rows=%d final=%v", i, snaps[i], want.rows, want.final)
		}
	}
	if got := strings.Count(progress, "\n"); got != 3 {
		t.Fatalf("progress lines = %d, want 3", got)
	}
	if !strings.Contains(progress, ": 250,000 rows in") {
		t.Fatalf("progress lacks grouped final count:\n%s", progress)
	}
}

func TestConvert_ExactMultipleStillEmitsFinal(t *testing.T) {
	t.Parallel()

	job := newJob(t, "a\nb\nc\nd\n")
	job.FlushInterval = 2
	_, snaps, _ := run(t, job)

	if len(snaps) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snaps))
	}
	if snaps[1].Rows != 4 || snaps[2].Rows != 4 || !snaps[2].Final {
		t.Fatalf("snapshots = %+v, want periodic and final message at 4 rows", snaps)
	}
}

func TestConvert_EmptySource(t *testing.T) {
	t.Parallel()

	job := newJob(t, "")
	res, snaps, _ := run(t, job)

	mustSucceed(t, res)
	if res.Rows != 0 {
		t.Fatalf("Rows = %d, want 0", res.Rows)
	}
	if len(snaps) != 1 || snaps[0].Rows != 0 {
		t.Fatalf("snapshots = %+v, want one with 0 rows", snaps)
	}
	if got := readTarget(t, job); got != "" {
		t.Fatalf("target = %q, want empty", got)
	}
	if res.Checksum != ChecksumBytes(nil) {
		t.Fatalf("Checksum = %s, want checksum of no bytes", res.Checksum)
	}
}

func TestConvert_UnterminatedQuoteKeepsConvertedRows(t *testing.T) {
	t.Parallel()

	job := newJob(t, "a\tb\nc\t\"open\n")
	res, snaps, progress := run(t, job)

	if res.Success {
		t.Fatalf("Success = true, want false")
	}
	if !errors.Is(res.Err, codec.ErrUnterminatedQuote) {
		t.Fatalf("Err = %v, want ErrUnterminatedQuote", res.Err)
	}
	var mre *codec.MalformedRecordError
	if !errors.As(res.Err, &mre) || mre.Line != 2 {
		t.Fatalf("Err = %v, want MalformedRecordError at line 2", res.Err)
	}
	if res.Rows != 1 {
		t.Fatalf("Rows = %d, want 1", res.Rows)
	}
	if got := readTarget(t, job); got != "a,b\r\n" {
		t.Fatalf("target = %q, want the converted first row", got)
	}
	if len(snaps) != 0 || progress != "" {
		t.Fatalf("progress emitted on failure: %+v %q", snaps, progress)
	}
}

func TestConvert_QuoteNoneFailsFast(t *testing.T) {
	t.Parallel()

	job := newJob(t, "plain\tvalue\nhas,comma\tx\n")
	job.TargetDialect.Quoting = codec.QuoteNone
	res, _, _ := run(t, job)

	if res.Success || !errors.Is(res.Err, codec.ErrFieldNeedsQuoting) {
		t.Fatalf("success=%v err=%v, want ErrFieldNeedsQuoting", res.Success, res.Err)
	}
	if res.Rows != 1 {
		t.Fatalf("Rows = %d, want 1", res.Rows)
	}
	if got := readTarget(t, job); got != "plain,value\r\n" {
		t.Fatalf("target = %q", got)
	}
}

func TestConvert_SecondPassIsByteIdentical(t *testing.T) {
	t.Parallel()

	job := newJob(t, "id\tnote\n1\t\"multi\nline, \"\"quoted\"\"\"\n2\t\n\n")
	first, _, _ := run(t, job)
	mustSucceed(t, first)

	again := Job{
		Source:        job.Target,
		Target:        job.Target + ".2",
		SourceDialect: codec.CSV,
		TargetDialect: codec.CSV,
		FlushInterval: 1,
	}
	second, _, _ := run(t, again)
	mustSucceed(t, second)

	if first.Rows != second.Rows || first.Checksum != second.Checksum {
		t.Fatalf("second pass rows=%d checksum=%s, want rows=%d checksum=%s", second.Rows, second.Checksum, first.Rows, first.Checksum)
	}
	out := readTarget(t, job)
	if got := readTarget(t, again); got != out {
		t.Fatalf("second pass = %q, want %q", got, out)
	}
	if want := ChecksumBytes([]byte(out)); first.Checksum != want {
		t.Fatalf("Checksum = %s, want %s", first.Checksum, want)
	}
	if first.BytesWritten != int64(len(out)) {
		t.Fatalf("BytesWritten = %d, want %d", first.BytesWritten, len(out))
	}
}

func TestConvert_SourceEncoding(t *testing.T) {
	t.Parallel()

	job := newJob(t, "m\xecsto\tPlze\xf2\n")
	job.SourceEncoding = "windows-1250"
	res, _, _ := run(t, job)

	mustSucceed(t, res)
	if got := readTarget(t, job); got != "město,Plzeň\r\n" {
		t.Fatalf("target = %q, want město,Plzeň", got)
	}
}

func TestConvert_MissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	job := Job{
		Source:        filepath.Join(dir, "missing.tsv"),
		Target:        filepath.Join(dir, "missing.csv"),
		SourceDialect: codec.TSV,
		TargetDialect: codec.CSV,
		FlushInterval: 10,
	}
	res, snaps, _ := run(t, job)

	if res.Success {
		t.Fatalf("Success = true, want false")
	}
	var ioErr *IOError
	if !errors.As(res.Err, &ioErr) || ioErr.Op != "open" {
		t.Fatalf("Err = %v, want IOError op=open", res.Err)
	}
	if !errors.Is(res.Err, os.ErrNotExist) {
		t.Fatalf("Err = %v, want os.ErrNotExist", res.Err)
	}
	if len(snaps) != 0 {
		t.Fatalf("snapshots = %+v, want none", snaps)
	}

	// The target is created before the source is opened.
	if _, err := os.Stat(job.Target); err != nil {
		t.Fatalf("stat target: %v", err)
	}
}

func TestConvert_InvalidJob(t *testing.T) {
	t.Parallel()

	job := newJob(t, "a\n")
	job.FlushInterval = 0
	job.ProgressTemplate = "{bogus}"
	res, _, _ := run(t, job)

	var cfgErr *ConfigError
	if !errors.As(res.Err, &cfgErr) {
		t.Fatalf("Err = %v, want *ConfigError", res.Err)
	}
	for _, want := range []string{"flush interval", "bogus"} {
		if !strings.Contains(res.Err.Error(), want) {
			t.Fatalf("Err = %q, want mention of %q", res.Err, want)
		}
	}
	targetMissing(t, job)
}

func TestConvert_CanceledBeforeOpen(t *testing.T) {
	t.Parallel()

	job := newJob(t, "a\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := (&Driver{}).Convert(ctx, job)

	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Err = %v, want context.Canceled", res.Err)
	}
	targetMissing(t, job)
}

type failingSink struct{ after int }

func (s failingSink) Create(context.Context) (io.WriteCloser, error) {
	return &failingWriter{left: s.after}, nil
}

type failingWriter struct{ left int }

var errDiskFull = errors.New("disk full")

func (w *failingWriter) Write(p []byte) (int, error) {
	if len(p) > w.left {
		n := w.left
		w.left = 0
		return n, errDiskFull
	}
	w.left -= len(p)
	return len(p), nil
}

func (w *failingWriter) Close() error { return nil }

func TestConvert_WriteFailure(t *testing.T) {
	t.Parallel()

	job := newJob(t, strings.Repeat("abc\tdef\n", 10))
	job.FlushInterval = 1
	d := &Driver{
		Clock: fixedClock,
		Sinks: func(string) datasource.Sink { return failingSink{after: 20} },
	}
	res := d.Convert(context.Background(), job)

	if res.Success {
		t.Fatalf("Success = true, want false")
	}
	var ioErr *IOError
	if !errors.As(res.Err, &ioErr) || ioErr.Op != "flush" {
		t.Fatalf("Err = %v, want IOError op=flush", res.Err)
	}
	if !errors.Is(res.Err, errDiskFull) {
		t.Fatalf("Err = %v, want %v", res.Err, errDiskFull)
	}
	if res.BytesWritten != 20 {
		t.Fatalf("BytesWritten = %d, want 20", res.BytesWritten)
	}
}
