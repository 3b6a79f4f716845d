package bench

import (
	"context"
	"io"
	"testing"

	"delimconv/internal/codec"
	"delimconv/internal/convert"
	"delimconv/internal/datasource"
)

// rowSource yields the same windows-1250 TSV line n times.
type rowSource struct{ n int }

func (s rowSource) Open(context.Context) (io.ReadCloser, error) {
	// "123456\tE - Evidenční\tNezjištěno\t07.10.2011\tTrue\n" in windows-1250.
	line := []byte("123456\tE - Eviden\xe8n\xed\t\"Nezji\x9at\xecno, \"\"v likvidaci\"\"\"\t07.10.2011\tTrue\n")
	return io.NopCloser(&repeatReader{line: line, left: s.n}), nil
}

type repeatReader struct {
	line []byte
	off  int
	left int
}

func (r *repeatReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && r.left > 0 {
		c := copy(p[n:], r.line[r.off:])
		n += c
		r.off += c
		if r.off == len(r.line) {
			r.off = 0
			r.left--
		}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

type discardSink struct{}

func (discardSink) Create(context.Context) (io.WriteCloser, error) {
	return nopCloser{io.Discard}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// BenchmarkEndToEnd drives a full conversion of b.N rows: charset decoding,
// TSV decoding, CSV encoding with quote doubling, buffering and checksums.
// No filesystem is involved.
//
// Run with:
//
//	go test -run=^$ -bench ^BenchmarkEndToEnd$ -cpuprofile cpu.out -memprofile mem.out -count=1
func BenchmarkEndToEnd(b *testing.B) {
	d := &convert.Driver{
		Progress: io.Discard,
		Sources:  func(string) datasource.Source { return rowSource{n: b.N} },
		Sinks:    func(string) datasource.Sink { return discardSink{} },
	}
	job := convert.Job{
		Source:         "bench.tsv",
		Target:         "bench.csv",
		SourceDialect:  codec.TSV,
		TargetDialect:  codec.CSV,
		SourceEncoding: "windows-1250",
		FlushInterval:  convert.DefaultFlushInterval,
	}

	b.ReportAllocs()
	b.ResetTimer()
	res := d.Convert(context.Background(), job)
	b.StopTimer()

	if res.Err != nil {
		b.Fatalf("Convert: %v", res.Err)
	}
	if res.Rows != int64(b.N) {
		b.Fatalf("Rows = %d, want %d", res.Rows, b.N)
	}
}
