package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"delimconv/internal/config"
	"delimconv/internal/convert"
	"delimconv/internal/datasource/httpds"
	"delimconv/internal/ledger"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

// newRun returns a default config converting dir/src/**/*.tsv into dir/dst.
func newRun(t *testing.T) (config.Run, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Source.Path = filepath.Join(dir, "src")
	cfg.Target.Path = filepath.Join(dir, "dst")
	return cfg, dir
}

func fixedRunner(out *bytes.Buffer) *Runner {
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return &Runner{
		Out:      out,
		Driver:   &convert.Driver{Progress: out, Clock: now},
		Now:      now,
		NewRunID: func() string { return "run-1" },
	}
}

func mustRun(t *testing.T, r *Runner, cfg config.Run) Summary {
	t.Helper()
	sum, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sum
}

func TestRun_ConvertsTreeFlattened(t *testing.T) {
	t.Parallel()

	cfg, dir := newRun(t)
	writeFile(t, filepath.Join(cfg.Source.Path, "a.tsv"), "x\ty\n1\t2\n")
	writeFile(t, filepath.Join(cfg.Source.Path, "nested", "B.TSV"), "q\n")
	writeFile(t, filepath.Join(cfg.Source.Path, "skip.txt"), "ignored\n")

	var out bytes.Buffer
	sum := mustRun(t, fixedRunner(&out), cfg)

	if sum.RunID != "run-1" || sum.Files != 2 || sum.Succeeded != 2 || sum.Rows != 3 {
		t.Fatalf("summary = %+v, want run-1 with 2 files, 2 succeeded, 3 rows", sum)
	}
	if got := readFile(t, filepath.Join(dir, "dst", "a.csv")); got != "x,y\r\n1,2\r\n" {
		t.Fatalf("a.csv = %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "dst", "B.csv")); got != "q\r\n" {
		t.Fatalf("B.csv = %q", got)
	}

	src := filepath.Join(cfg.Source.Path, "a.tsv")
	for _, want := range []string{
		"\n=============================\nSRC file: " + src + "\n-----------------------------\n",
		src + ": 2 rows in 0.00 secs at 2 rows/sec\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output lacks %q:\n%s", want, out.String())
		}
	}
	if !strings.HasSuffix(out.String(), "\nProcessing finished!\n") {
		t.Fatalf("output does not end with the closing line:\n%s", out.String())
	}
}

func TestRun_CreatesMissingRoots(t *testing.T) {
	t.Parallel()

	cfg, _ := newRun(t)
	sum := mustRun(t, fixedRunner(&bytes.Buffer{}), cfg)
	if sum.Files != 0 {
		t.Fatalf("Files = %d, want 0", sum.Files)
	}

	for _, p := range []string{cfg.Source.Path, cfg.Target.Path} {
		fi, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if !fi.IsDir() {
			t.Fatalf("%s is not a directory", p)
		}
	}
}

func TestRun_PathNotFound(t *testing.T) {
	t.Parallel()

	cfg, dir := newRun(t)
	blocker := filepath.Join(dir, "blocker")
	writeFile(t, blocker, "a regular file")
	cfg.Target.Path = filepath.Join(blocker, "out")

	_, err := fixedRunner(&bytes.Buffer{}).Run(context.Background(), cfg)
	var pnf *PathNotFoundError
	if !errors.As(err, &pnf) || pnf.Role != "target" {
		t.Fatalf("Run = %v, want PathNotFoundError for target", err)
	}
}

func TestRun_ContinuesAfterFailedFile(t *testing.T) {
	t.Parallel()

	cfg, dir := newRun(t)
	writeFile(t, filepath.Join(cfg.Source.Path, "1-bad.tsv"), "ok\t1\n\"never closed\n")
	writeFile(t, filepath.Join(cfg.Source.Path, "2-good.tsv"), "a\tb\n")

	sum := mustRun(t, fixedRunner(&bytes.Buffer{}), cfg)

	if sum.Files != 2 || sum.Failed != 1 || sum.Succeeded != 1 {
		t.Fatalf("summary = %+v, want 2 files, 1 failed, 1 succeeded", sum)
	}
	if len(sum.Results) != 2 || sum.Results[0].Success || !sum.Results[1].Success {
		t.Fatalf("results = %+v, want first failed then success", sum.Results)
	}
	if got := readFile(t, filepath.Join(dir, "dst", "1-bad.csv")); got != "ok,1\r\n" {
		t.Fatalf("partial target = %q, want %q", got, "ok,1\r\n")
	}
}

func TestRun_StopAfterFirst(t *testing.T) {
	t.Parallel()

	cfg, dir := newRun(t)
	cfg.Runtime.StopAfterFirst = true
	writeFile(t, filepath.Join(cfg.Source.Path, "a.tsv"), "1\n")
	writeFile(t, filepath.Join(cfg.Source.Path, "b.tsv"), "2\n")
	writeFile(t, filepath.Join(cfg.Source.Path, "sub", "c.tsv"), "3\n")

	sum := mustRun(t, fixedRunner(&bytes.Buffer{}), cfg)
	if sum.Files != 1 {
		t.Fatalf("Files = %d, want 1", sum.Files)
	}
	if _, err := os.Stat(filepath.Join(dir, "dst", "b.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stat b.csv = %v, want not exist", err)
	}
}

func TestRun_CollisionOverwrites(t *testing.T) {
	t.Parallel()

	cfg, dir := newRun(t)
	writeFile(t, filepath.Join(cfg.Source.Path, "a", "same.tsv"), "first\n")
	writeFile(t, filepath.Join(cfg.Source.Path, "b", "same.tsv"), "second\n")

	sum := mustRun(t, fixedRunner(&bytes.Buffer{}), cfg)
	if sum.Files != 2 || sum.Collisions != 1 {
		t.Fatalf("summary = %+v, want 2 files with 1 collision", sum)
	}
	if got := readFile(t, filepath.Join(dir, "dst", "same.csv")); got != "second\r\n" {
		t.Fatalf("same.csv = %q, want the later file", got)
	}
}

func TestRun_FileList(t *testing.T) {
	t.Parallel()

	cfg, dir := newRun(t)
	writeFile(t, filepath.Join(dir, "elsewhere", "one.dat"), "p|q\n")
	writeFile(t, filepath.Join(dir, "files.txt"), "# inputs\nelsewhere/one.dat\n")
	cfg.Source.List = filepath.Join(dir, "files.txt")
	cfg.Source.Delimiter = "pipe"

	sum := mustRun(t, fixedRunner(&bytes.Buffer{}), cfg)
	if sum.Succeeded != 1 {
		t.Fatalf("Succeeded = %d, want 1", sum.Succeeded)
	}
	if got := readFile(t, filepath.Join(dir, "dst", "one.csv")); got != "p,q\r\n" {
		t.Fatalf("one.csv = %q", got)
	}
}

func TestRun_FileListURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exports/cities.tsv" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "Praha\t1\n")
	}))
	defer srv.Close()

	cfg, dir := newRun(t)
	writeFile(t, filepath.Join(dir, "files.txt"), srv.URL+"/exports/cities.tsv\n"+srv.URL+"/missing.tsv\n")
	cfg.Source.List = filepath.Join(dir, "files.txt")

	r := fixedRunner(&bytes.Buffer{})
	r.HTTP = httpds.NewClient(httpds.Config{})
	sum := mustRun(t, r, cfg)
	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 succeeded and 1 failed", sum)
	}
	if got := readFile(t, filepath.Join(dir, "dst", "cities.csv")); got != "Praha,1\r\n" {
		t.Fatalf("cities.csv = %q", got)
	}
}

func TestRun_MissingFileList(t *testing.T) {
	t.Parallel()

	cfg, dir := newRun(t)
	cfg.Source.List = filepath.Join(dir, "no-such-list.txt")

	_, err := fixedRunner(&bytes.Buffer{}).Run(context.Background(), cfg)
	var de *DiscoveryError
	if !errors.As(err, &de) || de.Path != cfg.Source.List {
		t.Fatalf("Run = %v, want DiscoveryError for %s", err, cfg.Source.List)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Run = %v, want os.ErrNotExist", err)
	}
}

func TestRun_InvalidDialect(t *testing.T) {
	t.Parallel()

	cfg, _ := newRun(t)
	cfg.Target.Delimiter = `"`

	_, err := fixedRunner(&bytes.Buffer{}).Run(context.Background(), cfg)
	var cfgErr *convert.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Run = %v, want *convert.ConfigError", err)
	}
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	cfg, _ := newRun(t)
	writeFile(t, filepath.Join(cfg.Source.Path, "a.tsv"), "1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := fixedRunner(&bytes.Buffer{}).Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if sum.Files != 0 {
		t.Fatalf("Files = %d, want 0", sum.Files)
	}
}

type memLedger struct{ entries []ledger.Entry }

func (m *memLedger) Record(_ context.Context, e ledger.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLedger) Close() {}

func TestRun_RecordsLedgerEntries(t *testing.T) {
	t.Parallel()

	cfg, _ := newRun(t)
	writeFile(t, filepath.Join(cfg.Source.Path, "a.tsv"), "1\t2\n")

	r := fixedRunner(&bytes.Buffer{})
	l := &memLedger{}
	r.Ledger = l

	sum := mustRun(t, r, cfg)
	if len(l.entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(l.entries))
	}
	e := l.entries[0]
	if e.RunID != "run-1" || e.Rows != 1 || !e.Success {
		t.Fatalf("entry = %+v, want run-1 with 1 row, success", e)
	}
	if e.Checksum != sum.Results[0].Checksum {
		t.Fatalf("entry checksum = %s, want %s", e.Checksum, sum.Results[0].Checksum)
	}
	if want := convert.ChecksumBytes([]byte("1,2\r\n")); e.Checksum != want {
		t.Fatalf("entry checksum = %s, want %s", e.Checksum, want)
	}
}
