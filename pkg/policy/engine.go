package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates admission policies against deployment requests. Built-in
// policies are always present; operator policies loaded from disk are
// evaluated alongside them.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies compiled.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtin := BuiltinPolicies()
	for i := range builtin {
		if err := e.compile(context.Background(), &builtin[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtin[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(builtin)).Msg("Built-in policies compiled")
	return e, nil
}

// LoadPolicies compiles operator policies from the given file or directory
// paths. A policy whose name collides with a built-in replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compileLocked(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("Operator policies loaded")
	return nil
}

// WatchPolicies hot-reloads operator policies while ctx is alive: a change
// under any of the given paths swaps the fresh operator set in alongside the
// built-ins. The watcher closes when ctx is cancelled.
func (e *Engine) WatchPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

// ReplacePolicies swaps in a fresh operator policy set, keeping built-ins.
// Used by the file watcher on reload.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	builtin := BuiltinPolicies()
	for i := range builtin {
		if err := e.compileLocked(ctx, &builtin[i]); err != nil {
			return fmt.Errorf("failed to recompile built-in policy %s: %w", builtin[i].Name, err)
		}
	}
	for i := range policies {
		if err := e.compileLocked(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// EvaluateRequest runs every enabled policy against one deployment request
// and aggregates the findings. The request is admitted only when no
// error-severity violation was produced.
func (e *Engine) EvaluateRequest(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	result := &Result{
		Allowed:     true,
		EvaluatedAt: start,
	}

	for _, cp := range compiled {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		findings, err := e.evaluateOne(ctx, cp, input)
		if err != nil {
			// A broken policy must not admit by accident.
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}

		for _, f := range findings {
			if f.Severity == SeverityError {
				result.Allowed = false
				result.Violations = append(result.Violations, f)
			} else {
				result.Warnings = append(result.Warnings, f)
			}
		}
	}

	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("identity", identityOf(input)).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Admission evaluation completed")

	return result, nil
}

func (e *Engine) evaluateOne(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var findings []Violation
	for _, r := range results {
		for _, expr := range r.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				findings = append(findings, e.toViolation(cp.policy, d, input))
			}
		}
	}
	return findings, nil
}

// toViolation normalizes one deny entry. String entries become messages at
// the policy's default severity; object entries may override severity and
// identity.
func (e *Engine) toViolation(p *Policy, entry interface{}, input *Input) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
		Identity: identityOf(input),
	}

	switch value := entry.(type) {
	case string:
		v.Message = value
	case map[string]interface{}:
		if msg, ok := value["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := value["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if id, ok := value["identity"].(string); ok {
			v.Identity = id
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}

// compile parses and prepares one policy's deny query.
func (e *Engine) compile(ctx context.Context, p *Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileLocked(ctx, p)
}

func (e *Engine) compileLocked(ctx context.Context, p *Policy) error {
	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", packageName(p.Rego))),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		query:    query,
		compiled: time.Now(),
	}
	return nil
}

// ListPolicies returns the compiled policy set, sorted by name.
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

// packageName extracts the package declaration from Rego source.
func packageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "berth.policies"
}

func identityOf(input *Input) string {
	if input == nil || input.Request == nil {
		return ""
	}
	return input.Request.Identity
}
