// Package pdp implements the two-stage (Enqueue/Settle) capability gate
// (spec §4.3): every intent is checked against both a policy rule set
// and a pure wasm capability enforcer, and must be Allowed by both.
// Fail-closed throughout, in the spirit of pdp.PolicyDecisionPoint's
// contract (pdp/pdp.go: "MUST be fail-closed, deterministic decision
// hashes") — generalized here from a pluggable-backend interface to the
// kernel's concrete policy-engine + sandbox-enforcer pair.
package pdp

import (
	"context"
	"fmt"

	"github.com/aoscore/aos/pkg/capability"
	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/policy"
	"github.com/aoscore/aos/pkg/sandbox"
)

// Stage names the two gate points an intent passes through.
type Stage string

const (
	StageEnqueue Stage = "Enqueue"
	StageSettle  Stage = "Settle"
)

// Verdict is the combined outcome of one gate evaluation: both the
// policy decision and the enforcer decision, since either journal record
// (PolicyDecision, CapDecision) needs its own reason on Deny.
type Verdict struct {
	Stage          Stage
	PolicyAllow    bool
	PolicyCode     string
	EnforcerAllow  bool
	EnforcerCode   string
	EnforcerMsg    string
}

// Allowed reports whether both checks passed.
func (v Verdict) Allowed() bool {
	return v.PolicyAllow && v.EnforcerAllow
}

// Gate evaluates intents against a manifest's active policy and each
// capability's enforcer module.
type Gate struct {
	lm       *manifest.LoadedManifest
	resolver *capability.Resolver
	policies *policy.Engine
	sandbox  *sandbox.Runner
}

// NewGate constructs a Gate bound to a loaded manifest, a capability
// resolver built from the same manifest, a shared CEL policy engine, and
// the wasm runner used to invoke enforcer modules.
func NewGate(lm *manifest.LoadedManifest, resolver *capability.Resolver, policies *policy.Engine, runner *sandbox.Runner) *Gate {
	return &Gate{lm: lm, resolver: resolver, policies: policies, sandbox: runner}
}

// Check runs both the policy rule set and (if the capability declares
// one) the pure enforcer module for grantName at the given stage,
// returning a combined Verdict. Any error (missing grant, policy
// compile failure, sandbox fault) is itself treated as Deny by the
// caller — Check never returns a Verdict claiming Allow alongside a
// non-nil error.
func (g *Gate) Check(ctx context.Context, stage Stage, intentHash codec.Hash, effectKind, originKind, grantName string, params []byte, paramsTree map[string]any) (Verdict, error) {
	grant, err := g.resolver.Grant(grantName)
	if err != nil {
		return Verdict{}, fmt.Errorf("pdp: %w", err)
	}

	facts := policy.Facts{
		EffectKind: effectKind,
		OriginKind: originKind,
		CapType:    grant.CapType,
		GrantName:  grantName,
		Params:     paramsTree,
	}

	activeName := g.lm.Manifest.Defaults.Policy
	var policyResult policy.Result
	if activeName != "" {
		def, ok := g.lm.Policies[activeName]
		if !ok {
			return Verdict{}, fmt.Errorf("pdp: active policy %q not found", activeName)
		}
		policyResult, err = g.policies.Evaluate(def, facts)
		if err != nil {
			return Verdict{}, fmt.Errorf("pdp: evaluate policy: %w", err)
		}
	} else {
		// No active policy configured: fail-closed, not fail-open.
		policyResult = policy.Result{Decision: policy.Deny, Code: policy.DefaultDenyCode, RuleIdx: -1}
	}

	v := Verdict{
		Stage:       stage,
		PolicyAllow: policyResult.Decision == policy.Allow,
		PolicyCode:  policyResult.Code,
	}

	if grant.EnforcerHash.IsZero() {
		// Capability declares no enforcer: the policy decision alone gates it.
		v.EnforcerAllow = true
		return v, nil
	}

	out, err := g.sandbox.RunEnforcer(ctx, grant.EnforcerHash, sandbox.EnforcerInput{
		CapType:    grant.CapType,
		Params:     params,
		IntentHash: intentHash.String(),
		OriginKind: originKind,
	})
	if err != nil {
		// A faulting enforcer is a Deny, not an Allow — fail-closed.
		v.EnforcerAllow = false
		v.EnforcerCode = "capability.enforcer_fault"
		v.EnforcerMsg = err.Error()
		return v, nil
	}

	v.EnforcerAllow = out.Allow
	v.EnforcerCode = out.Code
	v.EnforcerMsg = out.Message
	return v, nil
}
