// Package loader runs instrumented configuration loads.
//
// A load resolves the top-level source, parses it against a schema,
// collects every diagnostic, runs the configured checkers (policies,
// constraints) over the resulting tree and records the outcome in metrics,
// traces, events and an optional history recorder. Watch repeats the load
// whenever one of the files it read changes.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/cfgtree/pkg/cfg"
	"github.com/openfroyo/cfgtree/pkg/source"
	"github.com/openfroyo/cfgtree/pkg/telemetry"
)

// Severity of a checker finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is one message reported while parsing.
type Diagnostic struct {
	Pos     cfg.Position `json:"pos"`
	Message string       `json:"message"`
}

func (d Diagnostic) String() string {
	return d.Pos.String() + ": " + d.Message
}

// Finding is a problem a checker found in a parsed tree.
type Finding struct {
	// Checker names the checker that produced the finding.
	Checker string `json:"checker"`

	// Rule identifies the policy or constraint within the checker.
	Rule string `json:"rule,omitempty"`

	// Path is the dotted option path the finding is about, if known.
	Path string `json:"path,omitempty"`

	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	s := fmt.Sprintf("%s: %s", f.Severity, f.Message)
	if f.Rule != "" {
		s += " [" + f.Checker + "/" + f.Rule + "]"
	}
	return s
}

// Checker inspects a successfully parsed tree.
type Checker interface {
	Name() string
	Check(ctx context.Context, tree *cfg.Section) ([]Finding, error)
}

// Recorder stores load results, e.g. in a history database.
type Recorder interface {
	Record(ctx context.Context, res *Result) error
}

// Result is the outcome of one load.
type Result struct {
	// ID identifies the load run.
	ID string

	// Source is the name given to Load.
	Source string

	// Sources lists every source read, top-level first, then includes in
	// the order they were opened.
	Sources []string

	// Tree is the parsed tree, nil when parsing failed.
	Tree *cfg.Section

	Diagnostics []Diagnostic
	Findings    []Finding

	// Err is the parse error, or an error from a checker.
	Err error

	StartedAt time.Time
	Duration  time.Duration
}

// Code returns the parse error code, or "" when the parse succeeded.
func (r *Result) Code() cfg.ErrorCode {
	if r.Err == nil {
		return ""
	}
	if code := cfg.CodeOf(r.Err); code != "" {
		return code
	}
	return "check_failed"
}

// Blocked reports whether the load failed or produced an error finding.
func (r *Result) Blocked() bool {
	if r.Err != nil {
		return true
	}
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Option configures a Loader.
type Option func(*Loader)

// WithResolver sets the resolver used for the top-level source and for
// includes. Defaults to local files.
func WithResolver(r cfg.Resolver) Option {
	return func(l *Loader) { l.resolver = r }
}

// WithTelemetry instruments loads.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(l *Loader) { l.tel = tel }
}

// WithChecker adds a checker run after every successful parse.
func WithChecker(c Checker) Option {
	return func(l *Loader) { l.checkers = append(l.checkers, c) }
}

// WithRecorder stores every result with r.
func WithRecorder(r Recorder) Option {
	return func(l *Loader) { l.recorder = r }
}

// WithReporter forwards diagnostics to r as they are reported, in
// addition to collecting them in the result.
func WithReporter(r cfg.Reporter) Option {
	return func(l *Loader) { l.reporter = r }
}

// WithParseOptions passes extra options to every parse.
func WithParseOptions(opts ...cfg.ParseOption) Option {
	return func(l *Loader) { l.parseOpts = append(l.parseOpts, opts...) }
}

// WithDebounce sets how long Watch waits for changes to settle.
func WithDebounce(d time.Duration) Option {
	return func(l *Loader) { l.debounce = d }
}

// Loader loads configuration files against one schema. A Loader may be
// used from several goroutines.
type Loader struct {
	schema    cfg.Schema
	resolver  cfg.Resolver
	tel       *telemetry.Telemetry
	checkers  []Checker
	recorder  Recorder
	reporter  cfg.Reporter
	parseOpts []cfg.ParseOption
	debounce  time.Duration
}

// New creates a Loader for schema.
func New(schema cfg.Schema, opts ...Option) *Loader {
	l := &Loader{
		schema:   schema,
		resolver: source.Files{},
		tel:      telemetry.Nop(),
		reporter: cfg.Discard,
		debounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// tracker records the sources a parse opens.
type tracker struct {
	mu       sync.Mutex
	resolver cfg.Resolver
	names    []string
}

func (t *tracker) Resolve(name, from string) (*cfg.Source, error) {
	src, err := t.resolver.Resolve(name, from)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if src.Name == "" {
		src.Name = name
	}
	t.names = append(t.names, src.Name)
	t.mu.Unlock()
	return src, nil
}

// Load parses name and runs the checkers over the tree. The returned error
// is res.Err; res is never nil.
func (l *Loader) Load(ctx context.Context, name string) (*Result, error) {
	res := &Result{
		ID:        uuid.New().String(),
		Source:    name,
		StartedAt: time.Now(),
	}
	timer := telemetry.NewTimer()

	ctx, span := l.tel.Tracer.StartLoadSpan(ctx, res.ID, name)
	defer span.End()
	logger := l.tel.Logger.NewComponentLogger("loader").WithLoadID(res.ID).WithSource(name)
	ctx = logger.WithContext(ctx)

	res.Tree, res.Err = l.parse(logger, name, res)
	if res.Err == nil {
		res.Err = l.check(ctx, res)
	}
	res.Duration = timer.Duration()

	span.SetAttributes(
		telemetry.AttrDiagnostics.Int(len(res.Diagnostics)),
		telemetry.AttrViolations.Int(len(res.Findings)),
	)
	if res.Err != nil {
		span.SetAttributes(telemetry.AttrErrorCode.String(string(res.Code())))
		telemetry.RecordError(span, res.Err)
		logger.WithError(res.Err).Warn("load failed")
	} else {
		telemetry.RecordSuccess(span)
		logger.WithField("findings", len(res.Findings)).WithField("duration", res.Duration.String()).Info("load completed")
	}

	l.tel.Metrics.RecordLoad(string(res.Code()), res.Duration, len(res.Diagnostics))
	_ = l.tel.Events.PublishLoad(res.ID, name, res.Err, len(res.Diagnostics))

	if l.recorder != nil {
		if err := l.recorder.Record(ctx, res); err != nil {
			logger.WithError(err).Warn("failed to record load")
		}
	}

	return res, res.Err
}

func (l *Loader) parse(logger *telemetry.Logger, name string, res *Result) (*cfg.Section, error) {
	tr := &tracker{resolver: l.resolver}
	defer func() { res.Sources = tr.names }()

	report := func(pos cfg.Position, msg string) {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Pos: pos, Message: msg})
		l.reporter(pos, msg)
	}

	src, err := tr.Resolve(name, "")
	if err != nil {
		perr := &cfg.ParseError{
			Code: cfg.CodeSourceUnavailable,
			File: name,
			Msg:  fmt.Sprintf("cannot open '%s': %v", name, err),
			Err:  err,
		}
		report(perr.Position(), perr.Msg)
		return nil, perr
	}
	defer src.Close()

	opts := []cfg.ParseOption{
		cfg.WithFilename(src.Name),
		cfg.WithResolver(tr),
		cfg.WithLogger(logger.Zerolog()),
	}
	opts = append(opts, l.parseOpts...)
	opts = append(opts, cfg.WithReporter(report))
	return cfg.Parse(l.schema, src, opts...)
}

func (l *Loader) check(ctx context.Context, res *Result) error {
	var errs []error
	for _, c := range l.checkers {
		cctx, span := l.tel.Tracer.StartCheckSpan(ctx, c.Name())
		findings, err := c.Check(cctx, res.Tree)
		if err != nil {
			telemetry.FromContext(ctx).WithError(err).WithField("checker", c.Name()).Warn("checker failed")
			telemetry.RecordError(span, err)
			span.End()
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		span.SetAttributes(telemetry.AttrViolations.Int(len(findings)))
		span.End()

		for _, f := range findings {
			if f.Checker == "" {
				f.Checker = c.Name()
			}
			l.tel.Metrics.RecordFinding(f.Checker, string(f.Severity))
			_ = l.tel.Events.PublishPolicyViolation(res.Source, f.Checker+"/"+f.Rule, string(f.Severity), f.Message)
			res.Findings = append(res.Findings, f)
		}
	}
	return errors.Join(errs...)
}
