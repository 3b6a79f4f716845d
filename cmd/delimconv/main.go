// Command delimconv converts every delimited text file under a source
// directory into another delimited dialect under a target directory.
//
// By default it turns ~/Desktop/TSVs/**/*.tsv into ~/Desktop/CSVs/*.csv:
//
//	delimconv -src_path ./in -tgt_path ./out
//	delimconv -config run.yaml -tgt_col_delimiter ';' -v
//
// Exit status is 0 once all files were processed (even if some failed),
// 1 for an invalid configuration, 2 when the source tree or file list
// cannot be read, 4 when a source or target path cannot be found or
// created and 130 after an interrupt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"delimconv/internal/batch"
	"delimconv/internal/config"
	"delimconv/internal/convert"
	"delimconv/internal/datasource/httpds"
	"delimconv/internal/ledger"
	_ "delimconv/internal/ledger/all"
	"delimconv/internal/metrics"
	"delimconv/internal/metrics/datadog"
	"delimconv/internal/metrics/prompush"
)

const (
	exitOK           = 0
	exitConfig       = 1
	exitDiscovery    = 2
	exitPathNotFound = 4
	exitInterrupted  = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	stopOnDone(ctx, stop)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv)
	stop()
	os.Exit(code)
}

// stopOnDone calls stop once ctx is done. After the first interrupt the run
// stops between files; restoring the default handler lets a second one kill
// a long file.
func stopOnDone(ctx context.Context, stop func()) {
	go func() {
		<-ctx.Done()
		stop()
	}()
}

// run is main without the process globals.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) int {
	log.SetOutput(stderr)

	fs := flag.NewFlagSet("delimconv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath  = fs.String("config", "", "JSON or YAML run config; flags override its values")
		validate = fs.Bool("validate", false, "validate the configuration and exit")

		srcPath   = fs.String("src_path", "", "source directory (default ~/Desktop/TSVs/)")
		srcExt    = fs.String("src_file_extension", "", "source file extension, matched case-insensitively (default .tsv)")
		srcDelim  = fs.String("src_col_delimiter", "", `source column delimiter: a character, \t, tab, comma, pipe, semicolon or space (default \t)`)
		srcQuote  = fs.String("src_col_quotechar", "", `source quote character (default ")`)
		srcQuot   = fs.String("src_quoting", "", "source quoting policy: minimal, all or none")
		srcEnc    = fs.String("src_encoding", "", "source charset, an IANA name (default utf-8)")
		strict    = fs.Bool("strict", false, "reject stray quote characters in source files")
		nfc       = fs.Bool("nfc", false, "normalize source text to Unicode NFC")
		list      = fs.String("list", "", "file listing source paths, one per line; replaces the directory walk")
		tgtPath   = fs.String("tgt_path", "", "target directory (default ~/Desktop/CSVs/)")
		tgtExt    = fs.String("tgt_file_extension", "", "target file extension (default .csv)")
		tgtDelim  = fs.String("tgt_col_delimiter", "", "target column delimiter (default ,)")
		tgtQuote  = fs.String("tgt_col_quotechar", "", `target quote character (default ")`)
		tgtQuot   = fs.String("tgt_quoting", "", "target quoting policy: minimal, all or none")
		tgtEnc    = fs.String("tgt_encoding", "", "target charset, an IANA name (default utf-8)")
		lineTerm  = fs.String("line_terminator", "", "target line terminator: crlf or lf (default crlf)")
		breakFst  = fs.Bool("break_after_first_file", false, "stop after the first matched file")
		template  = fs.String("progress_msg_template", "", "progress message template, e.g. '{file}: {rows} rows in {elapsed} secs at {rate} rows/sec'")
		flushRows = fs.Int("rows_flush_interval", 0, "rows between flushes and progress messages (default 100000)")

		job        = fs.String("job", "", "job name used for metrics and the ledger")
		metricsBk  = fs.String("metrics-backend", "", "metrics backend: none, pushgateway or datadog (env METRICS_BACKEND)")
		gatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
		ddAddr     = fs.String("datadog-addr", "", "DogStatsD address (env DD_AGENT_HOST)")
		ledgerKind = fs.String("ledger-kind", "", "ledger backend: sqlite, postgres or mssql; empty disables it")
		ledgerDSN  = fs.String("ledger-dsn", "", "ledger connection string")
		httpRetry  = fs.Int("http-retries", 0, "retries for URL entries of -list (default none)")
		insecure   = fs.Bool("http-insecure", false, "skip TLS verification for URL entries of -list")
		verbose    = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	str := func(name string, dst *string, v string) {
		if set[name] {
			*dst = v
		}
	}

	cfg, issues, err := config.NewBuilder().
		File(*cfgPath).
		Env(lookupEnv).
		Set(func(r *config.Run) {
			str("job", &r.Job, *job)
			str("src_path", &r.Source.Path, *srcPath)
			str("src_file_extension", &r.Source.Extension, *srcExt)
			str("src_col_delimiter", &r.Source.Delimiter, *srcDelim)
			str("src_col_quotechar", &r.Source.QuoteChar, *srcQuote)
			str("src_quoting", &r.Source.Quoting, *srcQuot)
			str("src_encoding", &r.Source.Encoding, *srcEnc)
			str("list", &r.Source.List, *list)
			str("tgt_path", &r.Target.Path, *tgtPath)
			str("tgt_file_extension", &r.Target.Extension, *tgtExt)
			str("tgt_col_delimiter", &r.Target.Delimiter, *tgtDelim)
			str("tgt_col_quotechar", &r.Target.QuoteChar, *tgtQuote)
			str("tgt_quoting", &r.Target.Quoting, *tgtQuot)
			str("tgt_encoding", &r.Target.Encoding, *tgtEnc)
			str("line_terminator", &r.Target.LineTerminator, *lineTerm)
			str("progress_msg_template", &r.Runtime.ProgressTemplate, *template)
			str("metrics-backend", &r.Metrics.Backend, *metricsBk)
			str("pushgateway-url", &r.Metrics.PushgatewayURL, *gatewayURL)
			str("datadog-addr", &r.Metrics.DatadogAddr, *ddAddr)
			str("ledger-kind", &r.Ledger.Kind, *ledgerKind)
			str("ledger-dsn", &r.Ledger.DSN, *ledgerDSN)
			if set["rows_flush_interval"] {
				r.Runtime.FlushInterval = *flushRows
			}
			if set["strict"] {
				r.Source.Strict = *strict
			}
			if set["nfc"] {
				r.Source.NormalizeNFC = *nfc
			}
			if set["break_after_first_file"] {
				r.Runtime.StopAfterFirst = *breakFst
			}
			if set["v"] {
				r.Runtime.Verbose = *verbose
			}
		}).
		Build()
	for _, iss := range issues {
		log.Printf("config: %s: %s: %s", iss.Severity, iss.Path, iss.Message)
	}
	if err != nil {
		log.Printf("Configuration is invalid: %v", err)
		return exitConfig
	}
	if *validate {
		log.Printf("Configuration is valid")
		return exitOK
	}

	flushMetrics := setupMetrics(cfg)
	defer flushMetrics()

	client := httpds.NewClient(httpds.Config{
		MaxRetries:         *httpRetry,
		InsecureSkipVerify: *insecure,
		Header:             http.Header{"User-Agent": {"delimconv"}},
	})
	runner := &batch.Runner{
		Out:    stdout,
		Driver: &convert.Driver{Progress: stdout, Clock: time.Now},
		HTTP:   client,
	}
	if cfg.Ledger.Kind != "" {
		l, err := ledger.Open(ctx, ledger.Config{
			Kind:     cfg.Ledger.Kind,
			DSN:      cfg.Ledger.DSN,
			Table:    cfg.Ledger.Options.String("table", ""),
			MaxConns: cfg.Ledger.Options.Int("max_conns", 0),
		})
		if err != nil {
			log.Printf("ledger: disabled: %v", err)
		} else {
			defer l.Close()
			runner.Ledger = l
		}
	}

	start := time.Now()
	sum, err := runner.Run(ctx, cfg)
	if cfg.Runtime.Verbose {
		log.Printf("run: id=%s files=%d ok=%d failed=%d rows=%d collisions=%d in %s",
			sum.RunID, sum.Files, sum.Succeeded, sum.Failed, sum.Rows, sum.Collisions,
			time.Since(start).Truncate(time.Millisecond))
	}
	return exitCode(stdout, err)
}

func exitCode(stdout io.Writer, err error) int {
	var pnf *batch.PathNotFoundError
	var cfgErr *convert.ConfigError
	var de *batch.DiscoveryError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		log.Printf("interrupted: %v", err)
		return exitInterrupted
	case errors.As(err, &pnf):
		fmt.Fprintf(stdout, "--%s_path not found: %s\n", roleFlag(pnf.Role), pnf.Path)
		log.Printf("%v", err)
		return exitPathNotFound
	case errors.As(err, &cfgErr):
		log.Printf("%v", err)
		return exitConfig
	case errors.As(err, &de):
		log.Printf("%v", err)
		return exitDiscovery
	default:
		log.Printf("%v", err)
		return exitConfig
	}
}

func roleFlag(role string) string {
	if role == "source" {
		return "src"
	}
	return "tgt"
}

// setupMetrics installs the configured backend and returns the function
// that flushes it at exit.
func setupMetrics(cfg config.Run) func() {
	flush := func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
	switch cfg.Metrics.Backend {
	case "pushgateway":
		url := cfg.Metrics.PushgatewayURL
		if url == "" {
			url = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(cfg.Job, url)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", url, cfg.Metrics.Backend, cfg.Job)
		metrics.SetBackend(b)
		return flush

	case "datadog":
		addr := cfg.Metrics.DatadogAddr
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  "delimconv.",
			GlobalTags: []string{"job:" + cfg.Job},
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		metrics.SetBackend(b)
		return func() {
			flush()
			_ = b.Close()
		}

	case "", "none":
		if cfg.Runtime.Verbose {
			log.Printf("metrics: disabled")
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", cfg.Metrics.Backend)
	}
	return func() {}
}
