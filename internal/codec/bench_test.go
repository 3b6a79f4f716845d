package codec

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func buildTSV(n int) string {
	var sb strings.Builder
	sb.Grow(n * 64)
	sb.WriteString("pcv\ttyp\tstav\tplatnost_od\taktualni\n")
	for i := 0; i < n; i++ {
		sb.WriteString("123456\tE - Evidenční\t\"Nezjištěno, \"\"v likvidaci\"\"\"\t07.10.2011\tTrue\n")
	}
	return sb.String()
}

func BenchmarkTranscodeTSVToCSV(b *testing.B) {
	src := buildTSV(50_000)
	b.SetBytes(int64(len(src)))
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		dec := NewDecoder(strings.NewReader(src), TSV)
		enc := NewEncoder(io.Discard, CSV)
		for {
			rec, err := dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
			if err := enc.Encode(rec); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkEncodeQuoteAll(b *testing.B) {
	rec := Record{"123456", "E - Evidenční", `Nezjištěno, "v likvidaci"`, "07.10.2011", "True"}
	d := CSV
	d.Quoting = QuoteAll
	var buf bytes.Buffer
	enc := NewEncoder(&buf, d)
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := enc.Encode(rec); err != nil {
			b.Fatal(err)
		}
	}
}
