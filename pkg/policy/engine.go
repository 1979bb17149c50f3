package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cfgtree/pkg/cfg"
	"github.com/openfroyo/cfgtree/pkg/loader"
)

// Engine evaluates Rego policies against parsed configuration trees. It
// implements loader.Checker.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	store       storage.Store
	logger      zerolog.Logger
	environment string
	metadata    map[string]any
	builtins    bool
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEnvironment sets input.context.environment for every evaluation.
func WithEnvironment(env string) EngineOption {
	return func(e *Engine) { e.environment = env }
}

// WithData makes data available to policies under data.<path>.
func WithData(data map[string]any) EngineOption {
	return func(e *Engine) { e.store = inmem.NewFromObject(data) }
}

// WithMetadata sets input.context.metadata for every evaluation.
func WithMetadata(md map[string]any) EngineOption {
	return func(e *Engine) { e.metadata = md }
}

// WithoutBuiltins skips the built-in policies.
func WithoutBuiltins() EngineOption {
	return func(e *Engine) { e.builtins = false }
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtins: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.builtins {
		if err := e.loadBuiltinPolicies(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to load built-in policies: %w", err)
		}
	}

	return e, nil
}

// Name implements loader.Checker.
func (e *Engine) Name() string { return "policy" }

// Check evaluates every enabled policy against tree. A policy that fails
// to evaluate does not stop the others; its error is returned alongside
// the findings of the rest.
func (e *Engine) Check(ctx context.Context, tree *cfg.Section) ([]loader.Finding, error) {
	input := &PolicyInput{
		Config:   tree.Map(),
		Filename: tree.Filename(),
		Context: &PolicyContext{
			Environment: e.environment,
			Timestamp:   time.Now(),
			Metadata:    e.metadata,
		},
	}
	return e.Evaluate(ctx, input)
}

// Evaluate evaluates every enabled policy against input, in policy name
// order.
func (e *Engine) Evaluate(ctx context.Context, input *PolicyInput) ([]loader.Finding, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policies))
	for name, cp := range e.policies {
		if cp.policy.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var findings []loader.Finding
	var errs []error
	for _, name := range names {
		cp := e.policies[name]
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("file", input.Filename).
				Msg("Policy evaluation failed")
			errs = append(errs, fmt.Errorf("policy %s: %w", name, err))
			continue
		}
		findings = append(findings, violations...)
	}

	e.logger.Debug().
		Str("file", input.Filename).
		Int("policies", len(names)).
		Int("violations", len(findings)).
		Dur("duration", time.Since(startTime)).
		Msg("Policy evaluation completed")

	return findings, errors.Join(errs...)
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]loader.Finding, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []loader.Finding
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// Sets come back as slices.
		if denySet, ok := result.Expressions[0].Value.([]any); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

// createViolation turns one element of a deny set into a finding. Elements
// are either plain messages or objects with message, severity, path and
// rule fields.
func createViolation(policy *Policy, result any) loader.Finding {
	violation := loader.Finding{
		Checker:  "policy",
		Rule:     policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = normalizeSeverity(sev, policy.Severity)
		}
		if path, ok := v["path"].(string); ok {
			violation.Path = path
		}
		if rule, ok := v["rule"].(string); ok {
			violation.Rule = policy.Name + "/" + rule
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

func normalizeSeverity(s string, def loader.Severity) loader.Severity {
	switch s {
	case "info":
		return loader.SeverityInfo
	case "warning", "warn":
		return loader.SeverityWarning
	case "error", "critical":
		return loader.SeverityError
	default:
		return def
	}
}

// compilePolicy parses a policy and prepares its deny query.
func (e *Engine) compilePolicy(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module.Package == nil {
		return nil, errors.New("policy has no package")
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = loader.SeverityWarning
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		cp, err := e.compilePolicy(ctx, &builtins[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// AddPolicies compiles policies and adds them to the engine, replacing
// policies of the same name. Nothing is added if any policy fails to
// compile.
func (e *Engine) AddPolicies(ctx context.Context, policies []Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		p := policies[i]
		cp, err := e.compilePolicy(ctx, &p)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", p.Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}
	return nil
}

// LoadPolicies loads policy files and directories and adds them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.AddPolicies(ctx, policies); err != nil {
		return err
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// Watch loads the policies under paths and keeps reloading them as they
// change until ctx is cancelled. A reload that fails to compile keeps the
// previous policies.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	l := NewLoader(e.logger)
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.AddPolicies(ctx, policies); err != nil {
		return err
	}
	return l.Watch(ctx, paths, func(policies []Policy) error {
		return e.AddPolicies(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
