package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"delimconv/internal/codec"
	"delimconv/internal/convert"
	"delimconv/internal/textenc"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "source.delimiter").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidationError carries the issues that made a configuration unusable.
type ValidationError struct{ Issues []Issue }

func (e *ValidationError) Error() string {
	var errs []error
	for _, iss := range e.Issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	return "config: invalid configuration: " + errors.Join(errs...).Error()
}

// ValidateRun performs static checks over r without touching the
// filesystem. It returns every finding rather than stopping at the first.
func ValidateRun(r Run) []Issue {
	var issues []Issue
	issues = append(issues, validateEndpoint("source", r.Source.Endpoint)...)
	issues = append(issues, validateEndpoint("target", r.Target.Endpoint)...)
	if _, err := ParseLineTerminator(r.Target.LineTerminator); err != nil {
		issues = append(issues, errorIssue("target.line_terminator", err.Error()))
	}
	if r.Source.Strict && strings.EqualFold(r.Source.Quoting, "none") {
		issues = append(issues, warningIssue("source.strict", "strict has no effect when source quoting is none"))
	}
	if samePath(r.Source.Path, r.Target.Path) && strings.EqualFold(r.Source.Extension, r.Target.Extension) {
		issues = append(issues, warningIssue("target.extension",
			"source and target share path and extension; every converted file would overwrite its own source"))
	}
	issues = append(issues, validateRuntime(r.Runtime)...)
	issues = append(issues, validateMetrics(r.Metrics)...)
	issues = append(issues, validateLedger(r.Ledger)...)
	return issues
}

func validateEndpoint(side string, e Endpoint) []Issue {
	var issues []Issue
	if strings.TrimSpace(e.Path) == "" {
		issues = append(issues, errorIssue(side+".path", side+".path must not be empty"))
	}
	if side == "target" && e.Extension == "" {
		issues = append(issues, errorIssue(side+".extension", "target extension must not be empty"))
	}

	delim, derr := codec.ParseChar(e.Delimiter)
	if derr != nil {
		issues = append(issues, errorIssue(side+".delimiter", derr.Error()))
	}
	quote, qerr := codec.ParseChar(e.QuoteChar)
	if qerr != nil {
		issues = append(issues, errorIssue(side+".quote_char", qerr.Error()))
	}
	if derr == nil && qerr == nil {
		d := codec.Dialect{Delimiter: delim, Quote: quote}
		if err := d.Validate(); err != nil {
			issues = append(issues, errorIssue(side, err.Error()))
		}
	}
	if _, err := codec.ParseQuotingPolicy(e.Quoting); err != nil {
		issues = append(issues, errorIssue(side+".quoting", err.Error()))
	}
	if _, err := textenc.Lookup(e.Encoding); err != nil {
		issues = append(issues, errorIssue(side+".encoding", err.Error()))
	}
	return issues
}

func validateRuntime(rt RuntimeConfig) []Issue {
	var issues []Issue
	if rt.FlushInterval <= 0 {
		issues = append(issues, errorIssue("runtime.flush_interval",
			fmt.Sprintf("flush_interval must be > 0, got %d", rt.FlushInterval)))
	}
	if _, err := convert.ParseTemplate(rt.ProgressTemplate); err != nil {
		issues = append(issues, errorIssue("runtime.progress_template", err.Error()))
	}
	if !utf8.ValidString(rt.ProgressTemplate) {
		issues = append(issues, warningIssue("runtime.progress_template", "template is not valid UTF-8"))
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "", "none", "pushgateway", "datadog":
		return nil
	}
	return []Issue{warningIssue("metrics.backend",
		fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", m.Backend))}
}

func validateLedger(l Ledger) []Issue {
	switch l.Kind {
	case "":
		return nil
	case "sqlite", "postgres", "mssql":
		if strings.TrimSpace(l.DSN) == "" {
			return []Issue{errorIssue("ledger.dsn", fmt.Sprintf("ledger kind %q requires a dsn", l.Kind))}
		}
		return nil
	}
	return []Issue{warningIssue("ledger.kind",
		fmt.Sprintf("unknown ledger kind %q; ensure a matching implementation is registered", l.Kind))}
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

func errorIssue(path, msg string) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: msg}
}

func warningIssue(path, msg string) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: msg}
}
