// Package batch runs a whole conversion: it resolves the source and target
// roots, discovers the files to convert and feeds them one by one to a
// convert.Driver, recording every result.
//
// Discovery and conversion run as a producer and a consumer in an errgroup;
// the consumer converts strictly one file at a time. A failed file is logged
// and the run moves on; only unusable roots or configuration end the run
// with an error.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"delimconv/internal/config"
	"delimconv/internal/convert"
	"delimconv/internal/datasource"
	"delimconv/internal/datasource/file"
	"delimconv/internal/datasource/httpds"
	"delimconv/internal/ledger"
	"delimconv/internal/metrics"
)

const (
	bannerTop    = "============================="
	bannerBottom = "-----------------------------"
	finished     = "Processing finished!"
)

// PathNotFoundError reports a source or target root that does not exist
// and could not be created.
type PathNotFoundError struct {
	Role string // "source" or "target"
	Path string
	Err  error
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("%s path not found: %s: %v", e.Role, e.Path, e.Err)
}

func (e *PathNotFoundError) Unwrap() error { return e.Err }

// DiscoveryError reports a source tree or file list that could not be read
// while looking for files to convert.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Files      int
	Succeeded  int
	Failed     int
	Rows       int64
	Collisions int
	Results    []convert.Result
}

// Runner executes runs. The zero value prints to stdout, reads local files
// and list URLs, and records nothing beyond metrics.
type Runner struct {
	// Out receives the per-file banners, progress lines and the closing line.
	Out io.Writer
	// Driver converts single files. Nil means a Driver printing to Out.
	Driver *convert.Driver
	// Ledger, when set, receives one entry per converted file.
	Ledger ledger.Ledger
	// Now stamps ledger entries. Nil means time.Now.
	Now func() time.Time
	// NewRunID identifies the run. Nil means a random UUID.
	NewRunID func() string
	// HTTP fetches URL entries of a file list. Nil means a client with
	// default retries.
	HTTP *httpds.Client
}

// Run converts every file selected by cfg. The returned error is non-nil
// only for problems that stop the whole run: an invalid dialect, a
// *PathNotFoundError, a *DiscoveryError for an unreadable source root or
// file list, or ctx being canceled. Per-file failures are reported through Summary.
func (r *Runner) Run(ctx context.Context, cfg config.Run) (Summary, error) {
	sum := Summary{RunID: r.runID()}

	srcDialect, err := cfg.SourceDialect()
	if err != nil {
		return sum, &convert.ConfigError{Err: err}
	}
	tgtDialect, err := cfg.TargetDialect()
	if err != nil {
		return sum, &convert.ConfigError{Err: err}
	}

	var srcRoot string
	if cfg.Source.List == "" {
		if srcRoot, err = resolveRoot("source", cfg.Source.Path); err != nil {
			return sum, err
		}
	}
	tgtRoot, err := resolveRoot("target", cfg.Target.Path)
	if err != nil {
		return sum, err
	}

	out := r.out()
	driver := &convert.Driver{Progress: out, Clock: time.Now}
	if r.Driver != nil {
		d := *r.Driver
		driver = &d
	}
	if driver.Sources == nil {
		driver.Sources = r.sources()
	}

	g, gctx := errgroup.WithContext(ctx)
	wctx, stopDiscovery := context.WithCancel(gctx)
	defer stopDiscovery()

	pairs := make(chan file.Pair)
	g.Go(func() error {
		defer close(pairs)
		err := discover(wctx, cfg, srcRoot, tgtRoot, pairs)
		if errors.Is(err, context.Canceled) && gctx.Err() == nil {
			// Stopped by the consumer.
			return nil
		}
		return err
	})
	g.Go(func() error {
		for p := range pairs {
			if err := gctx.Err(); err != nil {
				return err
			}
			job := convert.Job{
				Source:           p.Source,
				Target:           p.Target,
				SourceDialect:    srcDialect,
				TargetDialect:    tgtDialect,
				SourceEncoding:   cfg.Source.Encoding,
				TargetEncoding:   cfg.Target.Encoding,
				NormalizeNFC:     cfg.Source.NormalizeNFC,
				FlushInterval:    cfg.Runtime.FlushInterval,
				ProgressTemplate: cfg.Runtime.ProgressTemplate,
			}
			if p.Collides {
				sum.Collisions++
				log.Printf("batch: target=%s written again by source=%s; previous output is overwritten", p.Target, p.Source)
			}
			fmt.Fprintf(out, "\n%s\nSRC file: %s\n%s\n", bannerTop, p.Source, bannerBottom)

			res := driver.Convert(gctx, job)
			r.record(gctx, cfg, &sum, res)

			if cfg.Runtime.StopAfterFirst {
				stopDiscovery()
				return nil
			}
		}
		return nil
	})
	err = g.Wait()
	fmt.Fprintf(out, "\n%s\n", finished)
	return sum, err
}

func (r *Runner) record(ctx context.Context, cfg config.Run, sum *Summary, res convert.Result) {
	sum.Files++
	sum.Rows += res.Rows
	sum.Results = append(sum.Results, res)
	if res.Success {
		sum.Succeeded++
		if cfg.Runtime.Verbose {
			log.Printf("batch: file=%s rows=%d bytes=%d checksum=%s", res.Source, res.Rows, res.BytesWritten, res.Checksum)
		}
	} else {
		sum.Failed++
		log.Printf("batch: file=%s rows_written=%d err=%v", res.Source, res.Rows, res.Err)
	}

	metrics.RecordFile(cfg.Job, res.Err, res.Elapsed)
	metrics.RecordRows(cfg.Job, res.Rows)
	metrics.RecordBytes(cfg.Job, res.BytesWritten)

	if r.Ledger != nil {
		if err := r.Ledger.Record(ctx, ledger.FromResult(sum.RunID, res, r.now())); err != nil {
			log.Printf("ledger: file=%s err=%v", res.Source, err)
		}
	}
}

// discover sends one Pair per source file, from the explicit list when
// configured and from a walk of srcRoot otherwise.
func discover(ctx context.Context, cfg config.Run, srcRoot, tgtRoot string, out chan<- file.Pair) error {
	planner := file.NewPlanner(tgtRoot, cfg.Target.Extension)
	send := func(p file.Pair) error {
		select {
		case out <- p:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if cfg.Source.List != "" {
		listPath, err := file.ExpandHome(cfg.Source.List)
		if err != nil {
			return &DiscoveryError{Path: cfg.Source.List, Err: err}
		}
		paths, err := file.ReadList(listPath)
		if err != nil {
			return &DiscoveryError{Path: listPath, Err: err}
		}
		for _, p := range paths {
			name := filepath.Base(p)
			if httpds.IsURL(p) {
				name = httpds.FileName(p)
			}
			if err := send(planner.PlanNamed(p, name)); err != nil {
				return err
			}
		}
		return nil
	}

	walkFn := func(path string) error { return send(planner.Plan(path)) }
	err := file.Walk(ctx, srcRoot, cfg.Source.Extension, walkFn)
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	default:
		return &DiscoveryError{Path: srcRoot, Err: err}
	}
	return nil
}

// resolveRoot expands a leading "~" and creates the directory when missing.
func resolveRoot(role, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &PathNotFoundError{Role: role, Path: path, Err: os.ErrNotExist}
	}
	p, err := file.ExpandHome(path)
	if err != nil {
		return "", &PathNotFoundError{Role: role, Path: path, Err: err}
	}
	if err := file.EnsureDir(p); err != nil {
		return "", &PathNotFoundError{Role: role, Path: p, Err: err}
	}
	return p, nil
}

// sources opens list entries that are URLs over HTTP and everything else
// from the local filesystem.
func (r *Runner) sources() func(string) datasource.Source {
	client := r.HTTP
	if client == nil {
		client = httpds.NewClient(httpds.Config{})
	}
	return func(path string) datasource.Source {
		if httpds.IsURL(path) {
			return httpds.NewSource(client, path)
		}
		return file.NewLocal(path)
	}
}

func (r *Runner) out() io.Writer {
	if r.Out != nil {
		return r.Out
	}
	return os.Stdout
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) runID() string {
	if r.NewRunID != nil {
		return r.NewRunID()
	}
	return uuid.NewString()
}
