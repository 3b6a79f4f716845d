package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a Run from a JSON or YAML file, chosen by extension (.json,
// .yaml, .yml). Unknown fields are rejected. Fields missing from the file
// stay zero; pass the result through a Builder to fill in defaults.
func Load(path string) (Run, error) {
	var r Run
	if err := decodeFile(path, &r); err != nil {
		return Run{}, err
	}
	return r, nil
}

// decodeFile decodes path on top of r: keys present in the file replace
// the values in r, zero values included, and absent keys leave r alone.
func decodeFile(path string, r *Run) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(r); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(r); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: %s: unsupported extension %q (want .json, .yaml or .yml)", path, ext)
	}
	return nil
}

// Builder layers configuration sources over Defaults. Later calls win:
// the usual order is file, environment, then command-line flags.
type Builder struct {
	run Run
	err error
}

// NewBuilder starts from Defaults.
func NewBuilder() *Builder {
	return &Builder{run: Defaults()}
}

// File applies the config file at path. Every key the file sets wins,
// so "flush_interval: 0" reaches validation as 0. An empty path is a no-op.
func (b *Builder) File(path string) *Builder {
	if b.err != nil || path == "" {
		return b
	}
	r := b.run
	r.Ledger.Options = cloneOptions(r.Ledger.Options)
	if err := decodeFile(path, &r); err != nil {
		b.err = err
		return b
	}
	b.run = r
	return b
}

func cloneOptions(o Options) Options {
	if o == nil {
		return nil
	}
	c := make(Options, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Merge overlays every non-zero field of o. Unlike File it cannot express
// an explicit zero.
func (b *Builder) Merge(o Run) *Builder {
	r := &b.run
	setString(&r.Job, o.Job)
	mergeEndpoint(&r.Source.Endpoint, o.Source.Endpoint)
	setString(&r.Source.List, o.Source.List)
	r.Source.Strict = r.Source.Strict || o.Source.Strict
	r.Source.NormalizeNFC = r.Source.NormalizeNFC || o.Source.NormalizeNFC
	mergeEndpoint(&r.Target.Endpoint, o.Target.Endpoint)
	setString(&r.Target.LineTerminator, o.Target.LineTerminator)
	if o.Runtime.FlushInterval != 0 {
		r.Runtime.FlushInterval = o.Runtime.FlushInterval
	}
	setString(&r.Runtime.ProgressTemplate, o.Runtime.ProgressTemplate)
	r.Runtime.StopAfterFirst = r.Runtime.StopAfterFirst || o.Runtime.StopAfterFirst
	r.Runtime.Verbose = r.Runtime.Verbose || o.Runtime.Verbose
	setString(&r.Metrics.Backend, o.Metrics.Backend)
	setString(&r.Metrics.PushgatewayURL, o.Metrics.PushgatewayURL)
	setString(&r.Metrics.DatadogAddr, o.Metrics.DatadogAddr)
	setString(&r.Ledger.Kind, o.Ledger.Kind)
	setString(&r.Ledger.DSN, o.Ledger.DSN)
	if len(o.Ledger.Options) > 0 {
		r.Ledger.Options = o.Ledger.Options
	}
	return b
}

// Environment variables read by Env.
const (
	EnvFlushInterval  = "DELIMCONV_FLUSH_INTERVAL"
	EnvMetricsBackend = "METRICS_BACKEND"
	EnvPushgatewayURL = "PUSHGATEWAY_URL"
	EnvDatadogHost    = "DD_AGENT_HOST"
)

// Env applies environment overrides. lookup is usually os.LookupEnv.
func (b *Builder) Env(lookup func(string) (string, bool)) *Builder {
	if b.err != nil {
		return b
	}
	if s, ok := lookup(EnvFlushInterval); ok && s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			b.err = fmt.Errorf("config: %s=%q: %w", EnvFlushInterval, s, err)
			return b
		}
		b.run.Runtime.FlushInterval = n
	}
	if s, ok := lookup(EnvMetricsBackend); ok && s != "" {
		b.run.Metrics.Backend = s
	}
	if s, ok := lookup(EnvPushgatewayURL); ok && s != "" {
		b.run.Metrics.PushgatewayURL = s
	}
	if s, ok := lookup(EnvDatadogHost); ok && s != "" {
		b.run.Metrics.DatadogAddr = s + ":8125"
	}
	return b
}

// Set applies fn to the configuration being built. Command-line flags use
// it to override only the values the user actually set.
func (b *Builder) Set(fn func(*Run)) *Builder {
	if b.err == nil {
		fn(&b.run)
	}
	return b
}

// Build validates the accumulated configuration. Warnings do not fail the
// build; they are returned alongside the Run.
func (b *Builder) Build() (Run, []Issue, error) {
	if b.err != nil {
		return Run{}, nil, b.err
	}
	issues := ValidateRun(b.run)
	if HasErrors(issues) {
		return Run{}, issues, &ValidationError{Issues: issues}
	}
	return b.run, issues, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeEndpoint(dst *Endpoint, o Endpoint) {
	setString(&dst.Path, o.Path)
	setString(&dst.Extension, o.Extension)
	setString(&dst.Delimiter, o.Delimiter)
	setString(&dst.QuoteChar, o.QuoteChar)
	setString(&dst.Quoting, o.Quoting)
	setString(&dst.Encoding, o.Encoding)
}
