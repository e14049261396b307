// Package policy evaluates the ordered, first-match policy rules a
// manifest's active PolicyDef carries (spec §4.3). Filter fields
// (effect_kind, origin_kind, cap_type, grant_name) match by plain
// equality when set. A separate EvaluateGuard call evaluates a CEL guard
// expression against the intent facts, compiling each expression once and
// caching the program by expression string; Evaluate itself does not
// evaluate guards.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/aoscore/aos/pkg/manifest"
)

// Decision is the outcome of evaluating a stage's rule set.
type Decision string

const (
	Allow Decision = "Allow"
	Deny  Decision = "Deny"
)

// Facts are the attributes a policy rule's filters and optional CEL
// guard can observe about one intent at one gate stage.
type Facts struct {
	EffectKind string
	OriginKind string
	CapType    string
	GrantName  string
	Params     map[string]any
}

// Result is a policy evaluation outcome: the decision, and — on Deny —
// the code carried by the matched rule (or a fixed default-deny code
// when no rule matched).
type Result struct {
	Decision Decision
	Code     string
	RuleIdx  int // index of the matching rule, or -1 for the default
}

// DefaultDenyCode is the code attached when no rule in the policy
// matches an intent; spec §4.3 does not mandate default-allow, and a
// fail-closed default is the safer reading paired with the enforcer gate
// also needing to Allow.
const DefaultDenyCode = "policy.no_matching_rule"

// Engine evaluates one PolicyDef's ordered rules, with a CEL program
// cache shared across evaluations.
type Engine struct {
	env *cel.Env

	mu   sync.RWMutex
	prog map[string]cel.Program
}

// NewEngine builds an Engine with a CEL environment exposing the Facts
// fields as `effect_kind`, `origin_kind`, `cap_type`, `grant_name`, and
// `params` (a dynamic map) for rule guard expressions.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("effect_kind", cel.StringType),
		cel.Variable("origin_kind", cel.StringType),
		cel.Variable("cap_type", cel.StringType),
		cel.Variable("grant_name", cel.StringType),
		cel.Variable("params", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build CEL env: %w", err)
	}
	return &Engine{env: env, prog: make(map[string]cel.Program)}, nil
}

// Evaluate walks def.Rules in order and returns the first matching
// rule's decision. A rule matches when every non-empty filter field
// equals the corresponding Facts field; no CEL guard is evaluated here.
// No match is Deny with DefaultDenyCode.
func (e *Engine) Evaluate(def manifest.PolicyDef, facts Facts) (Result, error) {
	for i, rule := range def.Rules {
		if rule.EffectKind != "" && rule.EffectKind != facts.EffectKind {
			continue
		}
		if rule.OriginKind != "" && rule.OriginKind != facts.OriginKind {
			continue
		}
		if rule.CapType != "" && rule.CapType != facts.CapType {
			continue
		}
		if rule.GrantName != "" && rule.GrantName != facts.GrantName {
			continue
		}

		decision := Decision(rule.Decision)
		if decision != Allow && decision != Deny {
			return Result{}, fmt.Errorf("policy: rule %d has invalid decision %q", i, rule.Decision)
		}
		return Result{Decision: decision, Code: rule.Code, RuleIdx: i}, nil
	}
	return Result{Decision: Deny, Code: DefaultDenyCode, RuleIdx: -1}, nil
}

// EvaluateGuard compiles (or fetches from cache) and evaluates a CEL
// boolean guard expression against facts. Used for rule filters too rich
// to express as plain field equality (e.g. `params.amount < 100`).
func (e *Engine) EvaluateGuard(expr string, facts Facts) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"effect_kind": facts.EffectKind,
		"origin_kind": facts.OriginKind,
		"cap_type":    facts.CapType,
		"grant_name":  facts.GrantName,
		"params":      facts.Params,
	})
	if err != nil {
		return false, fmt.Errorf("policy: eval guard %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: guard %q did not evaluate to bool", expr)
	}
	return b, nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	p, ok := e.prog[expr]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok = e.prog[expr]; ok {
		return p, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile guard %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("policy: build program for %q: %w", expr, err)
	}
	e.prog[expr] = prg
	return prg, nil
}
