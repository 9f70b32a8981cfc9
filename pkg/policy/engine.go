package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/fusionctl/fusionctl/pkg/config"
	"github.com/fusionctl/fusionctl/pkg/engine"
)

// Engine evaluates guardrail policies against declarations.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	loader   *Loader
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy").Logger(),
	}
	e.loader = NewLoader(e.logger)

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStore(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}
	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// Evaluate runs every enabled policy, in name order, against decl.
func (e *Engine) Evaluate(ctx context.Context, decl *config.Declaration, pc *Context) (*Result, error) {
	start := time.Now()

	doc, err := engine.Normalize(decl)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy input: %w", err)
	}
	evalCtx := Context{}
	if pc != nil {
		evalCtx = *pc
	}
	if evalCtx.Timestamp.IsZero() {
		evalCtx.Timestamp = time.Now()
	}
	if evalCtx.Source == "" && decl != nil {
		evalCtx.Source = decl.Source
	}
	input, err := engine.Normalize(&Input{Declaration: doc, Context: &evalCtx})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy input: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policies))
	for name, cp := range e.policies {
		if cp.policy.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	result := &Result{Allowed: true, EvaluatedPolicies: names}
	for _, name := range names {
		cp := e.policies[name]
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		for _, v := range violations {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Int("policies", len(names)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Declaration policy evaluation completed")

	return result, nil
}

// Check evaluates decl and returns a configuration error listing every
// blocking violation when it is denied. Warnings are logged.
func (e *Engine) Check(ctx context.Context, decl *config.Declaration, pc *Context) (*Result, error) {
	result, err := e.Evaluate(ctx, decl, pc)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		e.logger.Warn().Str("policy", w.Policy).Str("resource", w.Resource).Msg(w.Message)
	}
	if result.Allowed {
		return result, nil
	}

	msgs := make([]string, len(result.Violations))
	for i, v := range result.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}
	return result, engine.NewConfigurationError("declaration denied by policy: "+strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithResource(pcSource(pc, decl)).
		WithDetail("violations", result.Violations)
}

func pcSource(pc *Context, decl *config.Declaration) string {
	if pc != nil && pc.Source != "" {
		return pc.Source
	}
	if decl != nil {
		return decl.Source
	}
	return ""
}

// evaluatePolicy collects the deny set of one policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	sort.SliceStable(violations, func(i, j int) bool { return violations[i].Message < violations[j].Message })
	return violations, nil
}

// createViolation builds a Violation from a deny entry, either a string or an
// object with message, resource and severity.
func createViolation(policy *Policy, entry interface{}) Violation {
	v := Violation{Policy: policy.Name, Severity: policy.Severity}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if res, ok := d["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}

// compileAndStore parses a policy and prepares its deny query. Callers hold
// the write lock or own the engine exclusively.
func (e *Engine) compileAndStore(ctx context.Context, policy *Policy) error {
	version := ast.RegoV1
	module, err := ast.ParseModuleWithOpts(policy.Name+".rego", policy.Rego, ast.ParserOptions{RegoVersion: version})
	if err != nil {
		// Policies written before Rego v1 still load.
		legacy, legacyErr := ast.ParseModuleWithOpts(policy.Name+".rego", policy.Rego, ast.ParserOptions{RegoVersion: ast.RegoV0})
		if legacyErr != nil {
			return fmt.Errorf("failed to parse policy: %w", err)
		}
		module, version = legacy, ast.RegoV0
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
		rego.SetRegoVersion(version),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{policy: policy, query: query}
	e.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled")
	return nil
}

// LoadPolicies compiles the .rego and .json policies found under paths. A
// policy with the name of an already loaded one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplacePolicies(ctx, policies)
}

// ReplacePolicies drops every non-builtin policy and compiles policies in
// their place. Nothing changes when one of them fails to compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	staged := &Engine{policies: make(map[string]*compiledPolicy), logger: e.logger}
	for i := range policies {
		policies[i].Builtin = false
		if err := staged.compileAndStore(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range staged.policies {
		e.policies[name] = cp
	}
	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
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

// DisablePolicy stops a policy from being evaluated. Disabling a custom
// policy lasts until the next ReplacePolicies.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")
	return nil
}
