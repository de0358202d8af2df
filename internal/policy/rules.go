// Package policy implements optional operator rules that refine the
// admission decision for eligible requests. Rules are CEL conditions over
// request attributes; they can force a request to the normal network path
// (bypass) or fail it without a bridge call (deny). Rules never widen
// eligibility — the path-prefix check in the agent remains the sole
// admission gate.
package policy

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// Rule effects.
const (
	EffectBypass = "bypass"
	EffectDeny   = "deny"
)

// RuleSpec is one rule as declared in configuration.
type RuleSpec struct {
	Name      string
	Condition string
	Effect    string
	Message   string
}

// RequestAttrs are the request attributes visible to rule conditions.
type RequestAttrs struct {
	Method string
	Path   string
	Query  string
}

// Verdict is the outcome of evaluating all rules against one request. A
// zero Verdict means no rule fired and the request proceeds to the bridge.
type Verdict struct {
	Effect  string
	Rule    string
	Message string
}

// Fired reports whether any rule matched.
func (v Verdict) Fired() bool { return v.Effect != "" }

type compiledRule struct {
	spec    RuleSpec
	program cel.Program
}

// RuleSet holds pre-compiled rules. Compilation happens once at load time;
// evaluation is lock-free and safe for concurrent use.
type RuleSet struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewRuleSet compiles the given specs. Conditions must evaluate to bool and
// effects must be "bypass" or "deny"; anything else fails loading.
func NewRuleSet(specs []RuleSpec, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("request.method", cel.StringType),
		cel.Variable("request.path", cel.StringType),
		cel.Variable("request.query", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rs := &RuleSet{logger: logger.With("component", "policy.RuleSet")}

	for _, spec := range specs {
		if spec.Effect != EffectBypass && spec.Effect != EffectDeny {
			return nil, fmt.Errorf("rule %q: unknown effect %q", spec.Name, spec.Effect)
		}

		ast, issues := env.Compile(spec.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: CEL compile error: %w", spec.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %q: condition must evaluate to bool, got %s", spec.Name, ast.OutputType())
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: CEL program creation failed: %w", spec.Name, err)
		}

		rs.rules = append(rs.rules, compiledRule{spec: spec, program: prg})
		rs.logger.Debug("compiled rule", "rule", spec.Name, "effect", spec.Effect)
	}

	return rs, nil
}

// Len returns the number of loaded rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Evaluate runs the rules in declaration order; the first match wins. An
// evaluation error skips that rule with a diagnostic — failing open toward
// interception, never toward deny.
func (rs *RuleSet) Evaluate(req RequestAttrs) Verdict {
	vars := map[string]any{
		"request.method": req.Method,
		"request.path":   req.Path,
		"request.query":  req.Query,
	}

	for _, rule := range rs.rules {
		out, _, err := rule.program.Eval(vars)
		if err != nil {
			rs.logger.Warn("rule evaluation error, skipping rule",
				"rule", rule.spec.Name,
				"error", err,
			)
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}
		return Verdict{
			Effect:  rule.spec.Effect,
			Rule:    rule.spec.Name,
			Message: rule.spec.Message,
		}
	}
	return Verdict{}
}
