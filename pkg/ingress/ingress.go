// Package ingress is the in-process API a control socket or CLI sits on
// top of: a plain Go surface with no socket framing or flag parsing of
// its own — that is an explicit non-core concern, left to whatever
// process embeds this package.
package ingress

import (
	"context"
	"fmt"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/effect"
	"github.com/aoscore/aos/pkg/governance"
	"github.com/aoscore/aos/pkg/journal"
	"github.com/aoscore/aos/pkg/kernel"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/plan"
	"github.com/aoscore/aos/pkg/store"
	"github.com/aoscore/aos/pkg/trace"
	"github.com/aoscore/aos/pkg/workflow"
)

// Surface composes a Kernel with the store and governance pipeline
// needed to serve every operation a control surface offers: stepping,
// injecting ingress, querying state, snapshotting, and driving a
// manifest-patch proposal through submit/shadow/approve/apply.
type Surface struct {
	k          *kernel.Kernel
	cas        store.CAS
	snapshots  *journal.SnapshotStore
	governance *governance.Pipeline
}

// New builds a Surface over an already-constructed Kernel. cas backs
// both blob storage (PutBlob) and the snapshot store; gov is the
// governance pipeline bound to the same cas and a QuiescenceChecker that
// should be k itself (k satisfies governance.QuiescenceChecker).
func New(k *kernel.Kernel, cas store.CAS, gov *governance.Pipeline) *Surface {
	return &Surface{
		k:          k,
		cas:        cas,
		snapshots:  journal.NewSnapshotStore(cas),
		governance: gov,
	}
}

// SendEvent admits a domain event into the kernel's ingress queue.
// logicalNowNs is supplied by the caller, never read from the wall
// clock here, so that replaying the same sequence of SendEvent/
// InjectReceipt calls with the same timestamps reproduces the same
// kernel state.
func (s *Surface) SendEvent(schema string, payload map[string]any, logicalNowNs int64) {
	s.k.EnqueueEvent(schema, payload, logicalNowNs)
}

// InjectReceipt admits an adapter-reported effect receipt.
func (s *Surface) InjectReceipt(r effect.Receipt, logicalNowNs int64) {
	s.k.EnqueueReceipt(r, logicalNowNs)
}

// Step drives one kernel step. It reports kernel.ErrEmpty when there is
// nothing queued; callers that want to drain fully should loop until
// that error is returned.
func (s *Surface) Step(ctx context.Context) error {
	return s.k.Step(ctx)
}

// Drain steps the kernel until its ingress queue is empty, returning the
// number of steps taken.
func (s *Surface) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		err := s.k.Step(ctx)
		if err == kernel.ErrEmpty {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// StateQuery names what QueryState should look up.
type StateQuery struct {
	WorkflowModule string
	WorkflowKey    []byte
	PlanID         string
}

// StateResult carries whichever of the queried instance/classification
// pairs applies, plus the live wait set across everything the kernel
// currently knows about.
type StateResult struct {
	Workflow      *workflow.Instance
	WorkflowTrace *trace.Classification
	Plan          *plan.Instance
	PlanTrace     *trace.Classification
	PlanWaitSet   *trace.PlanWaitSet
	LiveWaitSet   trace.LiveWaitSet
}

// QueryState answers a diagnostic query against the kernel's current
// state (spec §4.10's inspection surface).
func (s *Surface) QueryState(q StateQuery) (StateResult, error) {
	var res StateResult
	res.LiveWaitSet = trace.BuildLiveWaitSet(s.k.WorkflowInstances(), s.k.PlanInstances())

	if q.WorkflowModule != "" {
		inst, ok := s.k.QueryWorkflow(q.WorkflowModule, q.WorkflowKey)
		if !ok {
			return res, fmt.Errorf("ingress: no workflow instance for module %q key %x", q.WorkflowModule, q.WorkflowKey)
		}
		c := trace.ClassifyWorkflow(inst)
		res.Workflow = inst
		res.WorkflowTrace = &c
	}
	if q.PlanID != "" {
		inst, ok := s.k.QueryPlan(q.PlanID)
		if !ok {
			return res, fmt.Errorf("ingress: no plan instance %q", q.PlanID)
		}
		c, ws := trace.ClassifyPlan(inst)
		res.Plan = inst
		res.PlanTrace = &c
		res.PlanWaitSet = &ws
		return res, nil
	}
	return res, nil
}

// WorkflowWindow returns the causal intent/receipt history behind a workflow
// instance, verified for internal consistency.
func (s *Surface) WorkflowWindow(module string, key []byte) (trace.Window, error) {
	win, err := trace.ForWorkflow(s.k.Journal(), module, key)
	if err != nil {
		return trace.Window{}, err
	}
	if err := win.Verify(); err != nil {
		return trace.Window{}, fmt.Errorf("ingress: workflow window failed verification: %w", err)
	}
	return win, nil
}

// PlanWindow returns the causal intent/receipt history behind a plan
// instance, verified for internal consistency.
func (s *Surface) PlanWindow(planName, planID string) (trace.Window, error) {
	win, err := trace.ForPlan(s.k.Journal(), planName, planID)
	if err != nil {
		return trace.Window{}, err
	}
	if err := win.Verify(); err != nil {
		return trace.Window{}, fmt.Errorf("ingress: plan window failed verification: %w", err)
	}
	return win, nil
}

// Snapshot captures the kernel's current state to the snapshot store.
func (s *Surface) Snapshot(ctx context.Context) (codec.Hash, error) {
	return s.k.Snapshot(ctx, s.snapshots)
}

// Restore reseeds the kernel from the latest snapshot at or before
// atSeq, returning the journal height it restored to. The caller is
// responsible for replaying any journal records after that height
// through SendEvent/InjectReceipt if full replay is required.
func (s *Surface) Restore(ctx context.Context, atSeq uint64) (uint64, error) {
	return s.k.Restore(ctx, s.snapshots, atSeq)
}

// JournalHead reports the journal's current length and, if non-empty,
// its head record's hash.
func (s *Surface) JournalHead() (seq uint64, head codec.Hash, err error) {
	log := s.k.Journal()
	seq = log.Len()
	if seq == 0 {
		return 0, codec.Hash{}, nil
	}
	recs, err := log.Scan(seq-1, seq)
	if err != nil {
		return 0, codec.Hash{}, fmt.Errorf("ingress: scan journal head: %w", err)
	}
	if len(recs) == 0 {
		return 0, codec.Hash{}, fmt.Errorf("ingress: journal reports length %d but head scan returned nothing", seq)
	}
	return seq, recs[0].Hash, nil
}

// PutBlob stores an arbitrary blob in the kernel's content-addressed
// store, returning its hash. Used to stage wasm modules, schemas, or
// other node bodies referenced by a manifest patch before submitting it.
func (s *Surface) PutBlob(ctx context.Context, data []byte) (codec.Hash, error) {
	return s.cas.PutBlob(ctx, data)
}

// GovSubmit records a new manifest-patch proposal in the Submitted state.
func (s *Surface) GovSubmit(id string, patch manifest.PatchDocument) (*governance.Proposal, error) {
	return s.governance.Submit(id, patch)
}

// GovShadow compiles the proposal's patch against the kernel's current
// manifest and runs the self-check policy, without installing anything.
func (s *Surface) GovShadow(ctx context.Context, id string) (*governance.Proposal, error) {
	return s.governance.Shadow(ctx, s.k.Manifest(), id)
}

// GovApprove moves a Shadow proposal to Approved.
func (s *Surface) GovApprove(id string) (*governance.Proposal, error) {
	return s.governance.Approve(id)
}

// GovReject moves a non-terminal proposal to Rejected.
func (s *Surface) GovReject(id, reason string) (*governance.Proposal, error) {
	return s.governance.Reject(id, reason)
}

// GovApply installs an Approved proposal's compiled manifest as the
// kernel's live manifest, once the kernel reports quiescent. The
// governance pipeline enforces the quiescence fence itself (it was built
// with the kernel as its QuiescenceChecker); this method only wires the
// resulting manifest into the running kernel.
func (s *Surface) GovApply(ctx context.Context, id string) (*manifest.LoadedManifest, error) {
	lm, err := s.governance.Apply(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.k.InstallManifest(ctx, lm); err != nil {
		return nil, fmt.Errorf("ingress: install applied manifest: %w", err)
	}
	return lm, nil
}
