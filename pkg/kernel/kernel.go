// Package kernel implements the single-threaded cooperative stepper:
// one Step dequeues at most one ingress item — a domain event or an
// effect receipt — fully drains its deterministic consequences
// (workflow dispatch, plan ticks, effect gating, journal writes), and
// returns. External I/O never runs inside Step; adapters and control
// surfaces push work in through Enqueue* and pull dispatch results out
// through the effect manager's Drain.
//
// Writes are serialized through the step boundary: Kernel holds a
// sync.Mutex acquired for the duration of one Step and never held
// across an await.
package kernel

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aoscore/aos/pkg/capability"
	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/effect"
	"github.com/aoscore/aos/pkg/journal"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/pdp"
	"github.com/aoscore/aos/pkg/plan"
	"github.com/aoscore/aos/pkg/policy"
	"github.com/aoscore/aos/pkg/router"
	"github.com/aoscore/aos/pkg/sandbox"
	"github.com/aoscore/aos/pkg/secretref"
	"github.com/aoscore/aos/pkg/workflow"
)

// ErrEmpty is returned by Step when there is no pending ingress item.
var ErrEmpty = errors.New("kernel: no pending ingress")

type ingressKind int

const (
	ingressEvent ingressKind = iota
	ingressReceipt
)

type ingressItem struct {
	kind         ingressKind
	schema       string
	payload      map[string]any
	receipt      effect.Receipt
	logicalNowNs int64
}

// Kernel wires the router, workflow engine, plan engine, effect
// manager, and journal into one deterministic stepper.
type Kernel struct {
	mu sync.Mutex

	lm           *manifest.LoadedManifest
	resolver     *capability.Resolver
	router       *router.Router
	workflows    *workflow.Engine
	plans        *plan.Engine
	effects      *effect.Manager
	journal      *journal.Log
	runner       *sandbox.Runner
	secretSource secretref.Source

	queue             []ingressItem
	workflowInstances map[string]*workflow.Instance
	planInstances     map[string]*plan.Instance
	planSeq           uint64
}

// NewKernel builds a Kernel bound to a loaded manifest, a sandbox
// runner, a secret source, and a journal sink. It constructs its own
// capability resolver, policy engine, PDP gate, secret resolver, and
// effect manager from those, mirroring the component wiring order of
// spec §2's data/control-flow diagram.
func NewKernel(lm *manifest.LoadedManifest, runner *sandbox.Runner, secretSource secretref.Source, journalLog *journal.Log) (*Kernel, error) {
	resolver, err := capability.NewResolver(lm)
	if err != nil {
		return nil, fmt.Errorf("kernel: build capability resolver: %w", err)
	}
	policies, err := policy.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("kernel: build policy engine: %w", err)
	}
	gate := pdp.NewGate(lm, resolver, policies, runner)
	secrets := secretref.NewResolver(secretSource)
	effects := effect.NewManager(lm, gate, secrets, journalLog)

	k := &Kernel{
		lm:                lm,
		resolver:          resolver,
		router:            router.NewRouter(lm),
		workflows:         workflow.NewEngine(lm, runner, effects),
		effects:           effects,
		journal:           journalLog,
		runner:            runner,
		secretSource:      secretSource,
		workflowInstances: make(map[string]*workflow.Instance),
		planInstances:     make(map[string]*plan.Instance),
	}

	planEngine, err := plan.NewEngine(effects, k)
	if err != nil {
		return nil, fmt.Errorf("kernel: build plan engine: %w", err)
	}
	k.plans = planEngine

	return k, nil
}

// EnqueueEvent admits a domain event into the ingress queue. logicalNowNs
// is the caller-supplied deterministic clock value (spec §3's
// IngressStamp) — the kernel never reads the wall clock itself.
func (k *Kernel) EnqueueEvent(schema string, payload map[string]any, logicalNowNs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queue = append(k.queue, ingressItem{kind: ingressEvent, schema: schema, payload: payload, logicalNowNs: logicalNowNs})
}

// EnqueueReceipt admits an adapter-reported effect receipt into the
// ingress queue.
func (k *Kernel) EnqueueReceipt(r effect.Receipt, logicalNowNs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queue = append(k.queue, ingressItem{kind: ingressReceipt, receipt: r, logicalNowNs: logicalNowNs})
}

// Pending reports how many ingress items are queued.
func (k *Kernel) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.queue)
}

// Step dequeues and fully processes at most one ingress item. It
// returns ErrEmpty if the queue is empty.
func (k *Kernel) Step(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.queue) == 0 {
		return ErrEmpty
	}
	item := k.queue[0]
	k.queue = k.queue[1:]

	switch item.kind {
	case ingressEvent:
		return k.dispatchEvent(ctx, item.schema, item.payload, item.logicalNowNs)
	case ingressReceipt:
		return k.dispatchReceipt(ctx, item.receipt, item.logicalNowNs)
	default:
		return fmt.Errorf("kernel: unknown ingress item kind %d", item.kind)
	}
}

func (k *Kernel) dispatchEvent(ctx context.Context, schema string, payload map[string]any, logicalNowNs int64) error {
	if _, err := k.journal.Append(ctx, "Event", struct {
		Schema  string
		Payload map[string]any
	}{schema, payload}); err != nil {
		return fmt.Errorf("kernel: journal Event: %w", err)
	}

	routed, matched, err := k.router.Route(schema, payload)
	if err != nil {
		return fmt.Errorf("kernel: route event %q: %w", schema, err)
	}
	if matched {
		rc := k.reducerContext(logicalNowNs)
		for _, module := range routed.Modules {
			inst := k.workflowInstance(module, routed.Key)
			if err := k.workflows.HandleEvent(ctx, inst, routed.Variant.Tag, routed.Variant.Value, rc); err != nil {
				return fmt.Errorf("kernel: handle event for module %q: %w", module, err)
			}
		}
	}

	if planName, ok := k.router.TriggerPlan(schema); ok {
		correlationID := routed.Key
		if _, err := k.spawnPlan(ctx, planName, payload, correlationID); err != nil {
			return fmt.Errorf("kernel: spawn triggered plan %q: %w", planName, err)
		}
	}

	for _, id := range k.sortedPlanIDs() {
		inst := k.planInstances[id]
		if inst.Outcome != plan.OutcomeRunning {
			continue
		}
		if !awaitsSchema(inst, schema) {
			continue
		}
		k.plans.DeliverEvent(inst, schema, payload)
		if err := k.plans.Tick(ctx, inst); err != nil {
			return fmt.Errorf("kernel: tick plan %q after event %q: %w", id, schema, err)
		}
	}

	return nil
}

func (k *Kernel) dispatchReceipt(ctx context.Context, r effect.Receipt, logicalNowNs int64) error {
	if _, err := k.journal.Append(ctx, "ReceiptIngress", r); err != nil {
		return fmt.Errorf("kernel: journal ReceiptIngress: %w", err)
	}

	result, err := k.effects.Deliver(ctx, r)
	if err != nil {
		return fmt.Errorf("kernel: deliver receipt: %w", err)
	}
	if result == nil || !result.Allowed {
		return nil // silently dropped duplicate, or denied at Settle (already journaled)
	}

	switch result.Origin.Kind {
	case effect.OriginWorkflow:
		inst := k.workflowInstance(result.Origin.Module, result.Origin.InstanceKey)
		handle, ok := workflowHandleFor(inst, r.IntentHash)
		if !ok {
			return fmt.Errorf("kernel: no inflight handle for intent %s on module %q", r.IntentHash, result.Origin.Module)
		}
		return k.workflows.HandleReceipt(ctx, inst, handle, result.Receipt, k.reducerContext(logicalNowNs))

	case effect.OriginPlan:
		inst, ok := k.planInstances[result.Origin.PlanID]
		if !ok {
			return fmt.Errorf("kernel: no plan instance %q for settled receipt", result.Origin.PlanID)
		}
		handle, ok := planHandleFor(inst, r.IntentHash)
		if !ok {
			return fmt.Errorf("kernel: no effect handle for intent %s on plan %q", r.IntentHash, result.Origin.PlanID)
		}
		var payload map[string]any
		if len(result.Receipt.PayloadCBOR) > 0 {
			if err := codec.Decode(result.Receipt.PayloadCBOR, &payload); err != nil {
				return fmt.Errorf("kernel: decode plan receipt payload: %w", err)
			}
		}
		if err := k.plans.DeliverReceipt(inst, handle, payload); err != nil {
			return fmt.Errorf("kernel: deliver plan receipt: %w", err)
		}
		return k.plans.Tick(ctx, inst)

	default:
		return fmt.Errorf("kernel: unknown origin kind %q", result.Origin.Kind)
	}
}

// Spawn implements plan.Spawner, letting a running plan's SpawnPlan step
// create a child instance without pkg/plan importing pkg/kernel.
func (k *Kernel) Spawn(ctx context.Context, childPlan string, input any) (string, error) {
	return k.spawnPlan(ctx, childPlan, input, nil)
}

func (k *Kernel) spawnPlan(ctx context.Context, planName string, input any, correlationID []byte) (string, error) {
	def, ok := k.lm.Plans[planName]
	if !ok {
		return "", fmt.Errorf("kernel: unknown plan %q", planName)
	}
	k.planSeq++
	id := fmt.Sprintf("%s-%d", planName, k.planSeq)
	inst := plan.NewInstance(planName, id, def, input, correlationID)
	k.planInstances[id] = inst

	if _, err := k.journal.Append(ctx, "PlanSpawned", struct{ PlanName, ID string }{planName, id}); err != nil {
		return "", fmt.Errorf("kernel: journal PlanSpawned: %w", err)
	}
	if err := k.plans.Tick(ctx, inst); err != nil {
		return "", fmt.Errorf("kernel: initial tick for plan %q: %w", id, err)
	}
	return id, nil
}

// Quiescent implements governance.QuiescenceChecker: Apply may proceed
// only once there is no in-flight workflow intent, no pending effect, and
// nothing left in the ingress queue (spec §4.9).
func (k *Kernel) Quiescent(context.Context) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.queue) > 0 {
		return false, nil
	}
	if k.effects.PendingCount() > 0 || k.effects.InflightCount() > 0 {
		return false, nil
	}
	for _, inst := range k.workflowInstances {
		if inst.Status == workflow.StatusWaiting {
			return false, nil
		}
	}
	for _, inst := range k.planInstances {
		if inst.Outcome == plan.OutcomeRunning {
			return false, nil
		}
	}
	return true, nil
}

// InstallManifest replaces the kernel's live manifest with lm, the way
// governance.Pipeline.Apply's caller does once a proposal is Approved and
// Quiescent reports true (spec §4.9). It rebuilds the capability
// resolver, router, PDP gate, and engines against lm; existing workflow
// and plan instances are left untouched (they are keyed by module/plan
// name, which Apply-time governance is expected to keep stable across a
// patch).
func (k *Kernel) InstallManifest(ctx context.Context, lm *manifest.LoadedManifest) error {
	resolver, err := capability.NewResolver(lm)
	if err != nil {
		return fmt.Errorf("kernel: install manifest: build capability resolver: %w", err)
	}
	policies, err := policy.NewEngine()
	if err != nil {
		return fmt.Errorf("kernel: install manifest: build policy engine: %w", err)
	}
	gate := pdp.NewGate(lm, resolver, policies, k.runner)
	secrets := secretref.NewResolver(k.secretSource)
	effects := effect.NewManager(lm, gate, secrets, k.journal)

	k.mu.Lock()
	defer k.mu.Unlock()

	effects.Restore(k.effects.PendingIntents(), k.effects.InflightIntents(), nil)

	k.lm = lm
	k.resolver = resolver
	k.router = router.NewRouter(lm)
	k.effects = effects
	k.workflows = workflow.NewEngine(lm, k.runner, effects)

	planEngine, err := plan.NewEngine(effects, k)
	if err != nil {
		return fmt.Errorf("kernel: install manifest: build plan engine: %w", err)
	}
	k.plans = planEngine

	if _, err := k.journal.Append(ctx, "ManifestInstalled", struct{ Hash string }{lm.Hash.String()}); err != nil {
		return fmt.Errorf("kernel: install manifest: journal: %w", err)
	}
	return nil
}

// Manifest returns the manifest the kernel is currently running against.
func (k *Kernel) Manifest() *manifest.LoadedManifest { return k.lm }

// Journal returns the kernel's journal sink.
func (k *Kernel) Journal() *journal.Log { return k.journal }

// QueryWorkflow returns the instance for (module, key), if any.
func (k *Kernel) QueryWorkflow(module string, key []byte) (*workflow.Instance, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	inst, ok := k.workflowInstances[workflowInstanceKey(module, key)]
	return inst, ok
}

// QueryPlan returns the instance for planID, if any.
func (k *Kernel) QueryPlan(planID string) (*plan.Instance, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	inst, ok := k.planInstances[planID]
	return inst, ok
}

// WorkflowInstances returns every known workflow instance, sorted by
// label, for diagnostics (pkg/trace's live wait set).
func (k *Kernel) WorkflowInstances() []*workflow.Instance {
	k.mu.Lock()
	defer k.mu.Unlock()
	keys := make([]string, 0, len(k.workflowInstances))
	for key := range k.workflowInstances {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]*workflow.Instance, len(keys))
	for i, key := range keys {
		out[i] = k.workflowInstances[key]
	}
	return out
}

// PlanInstances returns every known plan instance, sorted by id, for
// diagnostics.
func (k *Kernel) PlanInstances() []*plan.Instance {
	k.mu.Lock()
	defer k.mu.Unlock()
	ids := k.sortedPlanIDs()
	out := make([]*plan.Instance, len(ids))
	for i, id := range ids {
		out[i] = k.planInstances[id]
	}
	return out
}

func (k *Kernel) sortedPlanIDs() []string {
	ids := make([]string, 0, len(k.planInstances))
	for id := range k.planInstances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// snapshotState is the serialized form journal.SnapshotStore persists.
type snapshotState struct {
	WorkflowInstances map[string]*workflow.Instance
	PlanInstances     map[string]*plan.Instance
	PendingIntents    []effect.Intent
	InflightIntents   []effect.Intent
}

// Snapshot captures the kernel's full in-memory state (instance tables
// and effect-manager queues, spec §4.8) and stores it in store at the
// journal's current height.
func (k *Kernel) Snapshot(ctx context.Context, snapshots *journal.SnapshotStore) (codec.Hash, error) {
	k.mu.Lock()
	state := snapshotState{
		WorkflowInstances: k.workflowInstances,
		PlanInstances:     k.planInstances,
		PendingIntents:    k.effects.PendingIntents(),
		InflightIntents:   k.effects.InflightIntents(),
	}
	atSeq := k.journal.Len()
	k.mu.Unlock()

	stateTree := map[string]any{
		"workflow_instances": state.WorkflowInstances,
		"plan_instances":     state.PlanInstances,
		"pending_intents":    state.PendingIntents,
		"inflight_intents":   state.InflightIntents,
	}
	return snapshots.Save(ctx, atSeq, stateTree)
}

// Restore reseeds the kernel's in-memory state from the snapshot, then
// returns the journal height it was taken at; the caller is responsible
// for replaying any journal records after that height (spec §4.8:
// "load snapshot, then replay journal from its height").
//
// This is a process-restart fast path, not a full replay verifier: it
// trusts the snapshot blob rather than re-deriving state by re-running
// every journaled Event/ReceiptIngress record through dispatch. A
// from-genesis determinism check belongs to pkg/trace/pkg/replay-style
// tooling operating on a fresh Kernel, not this method.
func (k *Kernel) Restore(ctx context.Context, snapshots *journal.SnapshotStore, atSeq uint64) (uint64, error) {
	snap, ok, err := snapshots.Latest(ctx, atSeq)
	if err != nil {
		return 0, fmt.Errorf("kernel: load snapshot: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("kernel: no snapshot at or before seq %d", atSeq)
	}

	var state snapshotState
	if err := decodeSnapshotState(snap.State, &state); err != nil {
		return 0, fmt.Errorf("kernel: decode snapshot state: %w", err)
	}

	capTypes := make(map[codec.Hash]string, len(state.InflightIntents))
	for _, in := range state.InflightIntents {
		if resolved, err := k.resolver.Grant(in.CapName); err == nil {
			capTypes[in.IntentHash] = resolved.CapType
		}
	}

	k.mu.Lock()
	k.workflowInstances = state.WorkflowInstances
	k.planInstances = state.PlanInstances
	k.mu.Unlock()
	k.effects.Restore(state.PendingIntents, state.InflightIntents, capTypes)

	return snap.AtSeq, nil
}

// decodeSnapshotState round-trips the snapshot's canonical-encoded tree
// back into typed state via the codec, since journal.SnapshotStore
// stores arbitrary trees rather than this package's own type.
func decodeSnapshotState(tree map[string]any, out *snapshotState) error {
	encoded, err := codec.Encode(tree)
	if err != nil {
		return err
	}
	type wire struct {
		WorkflowInstances map[string]*workflow.Instance `cbor:"workflow_instances"`
		PlanInstances     map[string]*plan.Instance      `cbor:"plan_instances"`
		PendingIntents    []effect.Intent                `cbor:"pending_intents"`
		InflightIntents   []effect.Intent                `cbor:"inflight_intents"`
	}
	var w wire
	if err := codec.Decode(encoded, &w); err != nil {
		return err
	}
	out.WorkflowInstances = w.WorkflowInstances
	out.PlanInstances = w.PlanInstances
	out.PendingIntents = w.PendingIntents
	out.InflightIntents = w.InflightIntents
	return nil
}

func (k *Kernel) workflowInstance(module string, key []byte) *workflow.Instance {
	id := workflowInstanceKey(module, key)
	inst, ok := k.workflowInstances[id]
	if !ok {
		inst = workflow.NewInstance(module, key)
		k.workflowInstances[id] = inst
	}
	return inst
}

func workflowInstanceKey(module string, key []byte) string {
	return fmt.Sprintf("%s/%x", module, key)
}

// reducerContext derives the deterministic facts a module may observe
// from the caller-supplied logical clock, the manifest's hash, and the
// journal's current height — never from a wall-clock read (spec §3:
// "entropy seed ... deterministic PRNG seeded from (journal_height,
// logical_now_ns, manifest_hash)").
func (k *Kernel) reducerContext(logicalNowNs int64) sandbox.ReducerContext {
	seed := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%s", k.journal.Len(), logicalNowNs, k.lm.Hash.String())))
	return sandbox.ReducerContext{
		NowNs:        logicalNowNs,
		LogicalNowNs: logicalNowNs,
		EntropySeed:  seed[:],
	}
}

func awaitsSchema(inst *plan.Instance, schema string) bool {
	for _, s := range inst.EventWaits {
		if s == schema {
			return true
		}
	}
	return false
}

func workflowHandleFor(inst *workflow.Instance, target codec.Hash) (string, bool) {
	for handle, h := range inst.InflightHandles {
		if h == target {
			return handle, true
		}
	}
	return "", false
}

func planHandleFor(inst *plan.Instance, target codec.Hash) (string, bool) {
	targetStr := target.String()
	for handle, h := range inst.EffectHandles {
		if h == targetStr {
			return handle, true
		}
	}
	return "", false
}
