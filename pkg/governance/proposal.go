package governance

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/store"
)

// ProposalStatus is a governance proposal's position in the
// Submit→Shadow→Approve/Reject→Apply pipeline (spec §4.8).
type ProposalStatus string

const (
	StatusSubmitted ProposalStatus = "Submitted"
	StatusShadow    ProposalStatus = "Shadow"
	StatusApproved  ProposalStatus = "Approved"
	StatusRejected  ProposalStatus = "Rejected"
	StatusApplied   ProposalStatus = "Applied"
)

// Proposal is one patch document moving through the pipeline.
type Proposal struct {
	ID      string
	Patch   manifest.PatchDocument
	Status  ProposalStatus
	Compiled *manifest.ManifestPatch
	Reason  string
}

// QuiescenceChecker reports whether the kernel has no in-flight
// workflow or plan instances, the precondition spec §4.8 requires
// before Apply installs a new manifest: Apply is gated on "nothing is
// mid-step".
type QuiescenceChecker interface {
	Quiescent(ctx context.Context) (bool, error)
}

// PatchPolicy is a self-check run during the Shadow phase, independent
// of the manifest's own installed policies (which do not exist yet for
// brand-new defs the patch introduces). CELPatchPolicy implements it
// with a cached CEL program per expression, evaluated fail-closed.
type PatchPolicy interface {
	VerifyPatch(ctx context.Context, mp *manifest.ManifestPatch) error
}

// CELPatchPolicy enforces a fixed "constitution" of CEL rules against
// every newly added or replaced module. The default set has one rule:
// the module name may contain only ASCII letters, digits, '_', '.' and
// '-'. Module versions are not checked.
type CELPatchPolicy struct {
	env  *cel.Env
	mu   sync.RWMutex
	prog map[string]cel.Program
	rules []string
}

// NewCELPatchPolicy builds a CELPatchPolicy with the default module
// naming constitution.
func NewCELPatchPolicy() (*CELPatchPolicy, error) {
	env, err := cel.NewEnv(cel.Variable("module", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("governance: build CEL env: %w", err)
	}
	return &CELPatchPolicy{
		env:  env,
		prog: make(map[string]cel.Program),
		rules: []string{
			`module.name.matches("^[a-zA-Z0-9_.-]+$")`,
		},
	}, nil
}

// VerifyPatch runs the constitution rules against every ModuleDef the
// patch's compiled node set introduces or replaces.
func (p *CELPatchPolicy) VerifyPatch(_ context.Context, mp *manifest.ManifestPatch) error {
	for name, n := range mp.Nodes {
		mod, ok := n.(manifest.ModuleDef)
		if !ok {
			continue
		}
		input := map[string]any{"module": map[string]any{"name": mod.Name}}
		for i, rule := range p.rules {
			allowed, err := p.eval(rule, input)
			if err != nil {
				return fmt.Errorf("governance: system policy error on module %q (rule %d): %w", name, i, err)
			}
			if !allowed {
				return fmt.Errorf("governance: system policy denied module %q: rule %d violated", name, i)
			}
		}
	}
	return nil
}

func (p *CELPatchPolicy) eval(expr string, input map[string]any) (bool, error) {
	p.mu.RLock()
	prg, hit := p.prog[expr]
	p.mu.RUnlock()
	if !hit {
		p.mu.Lock()
		if prg, hit = p.prog[expr]; !hit {
			ast, issues := p.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				p.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			built, err := p.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
			if err != nil {
				p.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			p.prog[expr] = built
			prg = built
		}
		p.mu.Unlock()
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

// Pipeline drives proposals through Submit/Shadow/Approve/Reject/Apply.
type Pipeline struct {
	cas        store.CAS
	policy     PatchPolicy
	quiescence QuiescenceChecker

	mu        sync.Mutex
	proposals map[string]*Proposal
}

// NewPipeline builds a Pipeline. policy may be nil to skip the
// self-check stage; quiescence may be nil only in tests that never call
// Apply.
func NewPipeline(cas store.CAS, policy PatchPolicy, quiescence QuiescenceChecker) *Pipeline {
	return &Pipeline{cas: cas, policy: policy, quiescence: quiescence, proposals: make(map[string]*Proposal)}
}

// Submit records a new proposal in the Submitted state.
func (p *Pipeline) Submit(id string, patch manifest.PatchDocument) (*Proposal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.proposals[id]; exists {
		return nil, fmt.Errorf("governance: proposal %q already exists", id)
	}
	prop := &Proposal{ID: id, Patch: patch, Status: StatusSubmitted}
	p.proposals[id] = prop
	return prop, nil
}

// Shadow compiles the proposal's patch against base without installing
// it, then runs the self-check policy over the compiled result. A
// failure here sets the proposal to Rejected; success advances it to
// Shadow, awaiting an explicit Approve/Reject decision.
func (p *Pipeline) Shadow(ctx context.Context, base *manifest.LoadedManifest, id string) (*Proposal, error) {
	prop, err := p.get(id)
	if err != nil {
		return nil, err
	}
	if prop.Status != StatusSubmitted {
		return nil, fmt.Errorf("governance: proposal %q not in Submitted state (is %s)", id, prop.Status)
	}

	compiled, err := manifest.Compile(ctx, p.cas, base, prop.Patch)
	if err != nil {
		p.transition(prop, StatusRejected, err.Error())
		return prop, fmt.Errorf("governance: shadow compile failed: %w", err)
	}

	if p.policy != nil {
		if err := p.policy.VerifyPatch(ctx, compiled); err != nil {
			p.transition(prop, StatusRejected, err.Error())
			return prop, fmt.Errorf("governance: shadow policy check failed: %w", err)
		}
	}

	p.mu.Lock()
	prop.Compiled = compiled
	prop.Status = StatusShadow
	p.mu.Unlock()
	return prop, nil
}

// Approve moves a Shadow proposal to Approved.
func (p *Pipeline) Approve(id string) (*Proposal, error) {
	prop, err := p.get(id)
	if err != nil {
		return nil, err
	}
	if prop.Status != StatusShadow {
		return nil, fmt.Errorf("governance: proposal %q not in Shadow state (is %s)", id, prop.Status)
	}
	p.transition(prop, StatusApproved, "")
	return prop, nil
}

// Reject moves any non-terminal proposal to Rejected, recording reason.
func (p *Pipeline) Reject(id, reason string) (*Proposal, error) {
	prop, err := p.get(id)
	if err != nil {
		return nil, err
	}
	if prop.Status == StatusApplied {
		return nil, fmt.Errorf("governance: proposal %q already applied", id)
	}
	p.transition(prop, StatusRejected, reason)
	return prop, nil
}

// Apply installs an Approved proposal's compiled manifest as the new
// live manifest, but only once the quiescence fence reports the kernel
// has no work in flight (spec §4.8: "Apply only at a quiescent point").
func (p *Pipeline) Apply(ctx context.Context, id string) (*manifest.LoadedManifest, error) {
	prop, err := p.get(id)
	if err != nil {
		return nil, err
	}
	if prop.Status != StatusApproved {
		return nil, fmt.Errorf("governance: proposal %q not in Approved state (is %s)", id, prop.Status)
	}
	if prop.Compiled == nil {
		return nil, fmt.Errorf("governance: proposal %q has no compiled patch", id)
	}

	if p.quiescence != nil {
		quiet, err := p.quiescence.Quiescent(ctx)
		if err != nil {
			return nil, fmt.Errorf("governance: quiescence check failed: %w", err)
		}
		if !quiet {
			return nil, fmt.Errorf("governance: cannot apply %q: kernel is not quiescent", id)
		}
	}

	if _, err := p.cas.PutNode(ctx, prop.Compiled.Manifest); err != nil {
		return nil, fmt.Errorf("governance: store applied manifest: %w", err)
	}

	p.transition(prop, StatusApplied, "")
	return prop.Compiled.Installed, nil
}

// Get returns the current state of proposal id.
func (p *Pipeline) Get(id string) (*Proposal, error) {
	return p.get(id)
}

func (p *Pipeline) get(id string) (*Proposal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prop, ok := p.proposals[id]
	if !ok {
		return nil, fmt.Errorf("governance: unknown proposal %q", id)
	}
	return prop, nil
}

func (p *Pipeline) transition(prop *Proposal, status ProposalStatus, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prop.Status = status
	if reason != "" {
		prop.Reason = reason
	}
}
