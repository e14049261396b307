// Package effect implements the effect manager: an in-memory FIFO of
// pending intents plus a map of inflight intents by hash, gating every
// intent through the two-stage capability/policy check before it is
// journaled, and every receipt through the same gate again before it is
// routed back to its origin.
//
// An intent is pending from enqueue until the host drains it, and
// inflight until a receipt settles it; pkg/pdp.Gate is checked at two
// decision points, Enqueue and Settle.
package effect

import (
	"context"
	"fmt"
	"sync"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/pdp"
	"github.com/aoscore/aos/pkg/secretref"
)

// Status is a receipt's reported outcome.
type Status string

const (
	StatusOk      Status = "Ok"
	StatusError   Status = "Error"
	StatusTimeout Status = "Timeout"
)

// OriginKind discriminates an intent's origin: a workflow instance or a
// plan step.
type OriginKind string

const (
	OriginWorkflow OriginKind = "Workflow"
	OriginPlan     OriginKind = "Plan"
)

// Origin identifies what emitted an intent.
type Origin struct {
	Kind OriginKind `cbor:"kind"`

	Module      string `cbor:"module,omitempty"`
	InstanceKey []byte `cbor:"instance_key,omitempty"`

	PlanName string `cbor:"plan_name,omitempty"`
	PlanID   string `cbor:"plan_id,omitempty"`
}

// Intent is an effect request awaiting gating and dispatch.
type Intent struct {
	Kind           string     `cbor:"kind"`
	CapName        string     `cbor:"cap_name"`
	ParamsCBOR     []byte     `cbor:"params_cbor"`
	IdempotencyKey [32]byte   `cbor:"idempotency_key"`
	Origin         Origin     `cbor:"origin"`
	IntentHash     codec.Hash `cbor:"intent_hash"`
}

// Receipt is an adapter-produced outcome for an intent.
type Receipt struct {
	IntentHash codec.Hash `cbor:"intent_hash"`
	AdapterID  string     `cbor:"adapter_id"`
	Status     Status     `cbor:"status"`
	PayloadCBOR []byte    `cbor:"payload_cbor"`
	CostCents  int64      `cbor:"cost_cents,omitempty"`
	Signature  []byte     `cbor:"signature,omitempty"`
}

// inflightEntry is what the manager tracks per outstanding intent.
type inflightEntry struct {
	intent     Intent
	capType    string
	originKind string
}

// Journal is the append-only sink the manager writes decision and
// intent/receipt records to. pkg/journal.Log implements this; the
// manager depends only on the interface, not on a concrete log type.
type Journal interface {
	Append(ctx context.Context, kind string, payload any) (uint64, error)
}

// Manager owns the pending FIFO and inflight map described in spec §4.4.
type Manager struct {
	lm       *manifest.LoadedManifest
	gate     *pdp.Gate
	secrets  *secretref.Resolver
	journal  Journal
	recent   *RecentSet

	mu       sync.Mutex
	pending  []Intent
	inflight map[codec.Hash]inflightEntry
}

// NewManager constructs a Manager bound to a loaded manifest, gate,
// secret resolver, and journal sink.
func NewManager(lm *manifest.LoadedManifest, gate *pdp.Gate, secrets *secretref.Resolver, journal Journal) *Manager {
	return &Manager{
		lm:       lm,
		gate:     gate,
		secrets:  secrets,
		journal:  journal,
		recent:   NewRecentSet(0),
		inflight: make(map[codec.Hash]inflightEntry),
	}
}

// EnqueueWorkflowEffect implements spec §4.4's
// enqueue_workflow_effect(module, cap_name, params).
func (m *Manager) EnqueueWorkflowEffect(ctx context.Context, module string, instanceKey []byte, kind, capName string, params map[string]any, idempotencyKey [32]byte) (Intent, error) {
	return m.enqueue(ctx, kind, capName, params, idempotencyKey, Origin{
		Kind:        OriginWorkflow,
		Module:      module,
		InstanceKey: instanceKey,
	})
}

// EnqueuePlanEffect implements
// enqueue_plan_effect(plan, kind, cap, params, idempotency).
func (m *Manager) EnqueuePlanEffect(ctx context.Context, planName, planID, kind, capName string, params map[string]any, idempotencyKey [32]byte) (Intent, error) {
	return m.enqueue(ctx, kind, capName, params, idempotencyKey, Origin{
		Kind:     OriginPlan,
		PlanName: planName,
		PlanID:   planID,
	})
}

func (m *Manager) enqueue(ctx context.Context, kind, capName string, params map[string]any, idempotencyKey [32]byte, origin Origin) (Intent, error) {
	effectDef, ok := m.lm.Effects[kind]
	if !ok {
		return Intent{}, fmt.Errorf("effect: unknown effect kind %q", kind)
	}
	if !originEmits(m.lm, origin, kind) {
		return Intent{}, fmt.Errorf("effect: %s does not declare %q in effects_emitted", originDescr(origin), kind)
	}

	grant, err := m.resolveGrant(origin, capName)
	if err != nil {
		return Intent{}, err
	}

	normalized, err := codec.NormalizeTree(params, schemaFor(m.lm, effectDef.ParamsSchema))
	if err != nil {
		return Intent{}, fmt.Errorf("effect: normalize params: %w", err)
	}

	planName := origin.PlanName
	capForSecret := capName
	resolved, err := m.secrets.Resolve(ctx, m.lm, normalized, capForSecret, planName)
	if err != nil {
		return Intent{}, fmt.Errorf("effect: resolve secrets: %w", err)
	}

	paramsCBOR, err := codec.Encode(resolved)
	if err != nil {
		return Intent{}, fmt.Errorf("effect: encode params: %w", err)
	}

	intent := Intent{
		Kind:           kind,
		CapName:        capName,
		ParamsCBOR:     paramsCBOR,
		IdempotencyKey: idempotencyKey,
		Origin:         origin,
	}
	intentHash, err := codec.HashValue(struct {
		Kind           string
		CapName        string
		Params         []byte
		IdempotencyKey [32]byte
		Origin         Origin
	}{kind, capName, paramsCBOR, idempotencyKey, origin})
	if err != nil {
		return Intent{}, fmt.Errorf("effect: hash intent: %w", err)
	}
	intent.IntentHash = intentHash

	paramsTree, _ := resolved.(map[string]any)
	verdict, err := m.gate.Check(ctx, pdp.StageEnqueue, intentHash, kind, string(origin.Kind), capName, paramsCBOR, paramsTree)
	if err != nil {
		return Intent{}, fmt.Errorf("effect: enqueue gate: %w", err)
	}

	if _, jerr := m.journal.Append(ctx, "CapDecision", capDecisionRecord(pdp.StageEnqueue, intentHash, grant.CapType, verdict)); jerr != nil {
		return Intent{}, fmt.Errorf("effect: journal CapDecision: %w", jerr)
	}
	if !verdict.Allowed() {
		return Intent{}, &DenyError{Stage: pdp.StageEnqueue, Code: denyCode(verdict)}
	}

	if _, jerr := m.journal.Append(ctx, "EffectIntent", intent); jerr != nil {
		return Intent{}, fmt.Errorf("effect: journal EffectIntent: %w", jerr)
	}

	m.mu.Lock()
	m.pending = append(m.pending, intent)
	m.inflight[intentHash] = inflightEntry{intent: intent, capType: grant.CapType, originKind: string(origin.Kind)}
	m.mu.Unlock()

	return intent, nil
}

// Drain returns and removes all pending intents; the host dispatches
// them to adapters outside the kernel step.
func (m *Manager) Drain() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

// PendingCount reports how many intents are queued for dispatch but not
// yet drained.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PendingIntents returns a copy of the intents queued for dispatch,
// preserving FIFO order. Used when serializing a snapshot (spec §4.8).
func (m *Manager) PendingIntents() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Intent, len(m.pending))
	copy(out, m.pending)
	return out
}

// InflightIntents returns a copy of the intents dispatched but not yet
// settled. Order is unspecified; callers that need determinism should
// sort by IntentHash.
func (m *Manager) InflightIntents() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Intent, 0, len(m.inflight))
	for _, e := range m.inflight {
		out = append(out, e.intent)
	}
	return out
}

// Restore reseeds the pending/inflight state from a prior snapshot
// (spec §4.8: a snapshot carries "effect-manager queues (pending +
// inflight)"). capTypes supplies each inflight intent's cap_type,
// keyed by intent hash, resolved fresh from the manifest rather than
// carried in the snapshot itself.
func (m *Manager) Restore(pending []Intent, inflight []Intent, capTypes map[codec.Hash]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append([]Intent(nil), pending...)
	m.inflight = make(map[codec.Hash]inflightEntry, len(inflight))
	for _, in := range inflight {
		m.inflight[in.IntentHash] = inflightEntry{
			intent:     in,
			capType:    capTypes[in.IntentHash],
			originKind: string(in.Origin.Kind),
		}
	}
}

// InflightCount reports how many intents have been dispatched but not
// yet settled by a receipt. Used by the governance quiescence fence
// (spec §4.9): Apply may only proceed once this is zero.
func (m *Manager) InflightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Deliver implements spec §4.4's deliver(receipt): normalizes the
// payload against the receipt schema, evaluates the Settle gate, and on
// Allow journals the receipt and removes the settled intent; on Deny,
// journals the deny decision without removing the intent (the caller's
// workflow fault pipeline decides what happens next).
//
// A receipt whose intent_hash is not inflight but is in the
// recent-settled set is dropped silently (nil result, nil error) —
// spec §4.4's idempotency rule for duplicate/late delivery. A receipt
// whose intent_hash is in neither (never enqueued, or evicted from the
// bounded recent set) returns an error.
func (m *Manager) Deliver(ctx context.Context, r Receipt) (*DeliverResult, error) {
	m.mu.Lock()
	entry, known := m.inflight[r.IntentHash]
	m.mu.Unlock()

	if !known {
		if m.recent.Contains(r.IntentHash) {
			return nil, nil // silent drop: already-settled receipt replayed
		}
		return nil, fmt.Errorf("effect: receipt for unknown intent_hash %s", r.IntentHash)
	}

	effectDef, ok := m.lm.Effects[entry.intent.Kind]
	if !ok {
		return nil, fmt.Errorf("effect: unknown effect kind %q for inflight intent", entry.intent.Kind)
	}

	var payloadTree map[string]any
	if len(r.PayloadCBOR) > 0 {
		if err := codec.Decode(r.PayloadCBOR, &payloadTree); err != nil {
			return nil, fmt.Errorf("effect: decode receipt payload: %w", err)
		}
		normalized, err := codec.NormalizeTree(payloadTree, schemaFor(m.lm, effectDef.ReceiptSchema))
		if err != nil {
			return nil, fmt.Errorf("effect: normalize receipt payload: %w", err)
		}
		payloadTree, _ = normalized.(map[string]any)
	}

	verdict, err := m.gate.Check(ctx, pdp.StageSettle, r.IntentHash, entry.intent.Kind, entry.originKind, entry.intent.CapName, r.PayloadCBOR, payloadTree)
	if err != nil {
		return nil, fmt.Errorf("effect: settle gate: %w", err)
	}

	if _, jerr := m.journal.Append(ctx, "CapDecision", capDecisionRecord(pdp.StageSettle, r.IntentHash, entry.capType, verdict)); jerr != nil {
		return nil, fmt.Errorf("effect: journal CapDecision: %w", jerr)
	}
	if !verdict.Allowed() {
		return &DeliverResult{Origin: entry.intent.Origin, Allowed: false}, nil
	}

	if _, jerr := m.journal.Append(ctx, "EffectReceipt", r); jerr != nil {
		return nil, fmt.Errorf("effect: journal EffectReceipt: %w", jerr)
	}

	m.mu.Lock()
	delete(m.inflight, r.IntentHash)
	m.mu.Unlock()
	m.recent.Add(r.IntentHash)

	return &DeliverResult{Origin: entry.intent.Origin, Allowed: true, Receipt: r}, nil
}

// DeliverResult tells the kernel stepper where to route a settled
// receipt (back to the workflow instance or plan that emitted it).
type DeliverResult struct {
	Origin  Origin
	Allowed bool
	Receipt Receipt
}

// DenyError is returned when an Enqueue-stage gate denies an intent.
type DenyError struct {
	Stage pdp.Stage
	Code  string
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("effect: %s denied: %s", e.Stage, e.Code)
}

func (m *Manager) resolveGrant(_ Origin, capName string) (struct{ CapType string }, error) {
	capDefName := capFor(m.lm, capName)
	if capDefName == "" {
		return struct{ CapType string }{}, fmt.Errorf("effect: unknown grant %q", capName)
	}
	cap, ok := m.lm.Capabilities[capDefName]
	if !ok {
		return struct{ CapType string }{}, fmt.Errorf("effect: grant %q references unknown capability", capName)
	}
	return struct{ CapType string }{CapType: cap.CapType}, nil
}

func capFor(lm *manifest.LoadedManifest, grantName string) string {
	for _, g := range lm.Manifest.Defaults.CapGrants {
		if g.Name == grantName {
			return g.Cap
		}
	}
	return ""
}

func originEmits(lm *manifest.LoadedManifest, origin Origin, kind string) bool {
	if origin.Kind != OriginWorkflow {
		return true // plan-origin effects_emitted checks happen at the plan level (pkg/plan)
	}
	mod, ok := lm.Modules[origin.Module]
	if !ok {
		return false
	}
	for _, k := range mod.EffectsEmitted {
		if k == kind {
			return true
		}
	}
	return false
}

func originDescr(o Origin) string {
	if o.Kind == OriginWorkflow {
		return fmt.Sprintf("module %q", o.Module)
	}
	return fmt.Sprintf("plan %q", o.PlanName)
}

func schemaFor(lm *manifest.LoadedManifest, schemaName string) codec.Schema {
	if sd, ok := lm.Schemas[schemaName]; ok {
		return sd.Arrays
	}
	return codec.Schema{}
}

func capDecisionRecord(stage pdp.Stage, intentHash codec.Hash, capType string, v pdp.Verdict) map[string]any {
	rec := map[string]any{
		"stage":       string(stage),
		"intent_hash": intentHash.String(),
		"cap_type":    capType,
		"allow":       v.Allowed(),
	}
	if !v.Allowed() {
		rec["code"] = denyCode(v)
	}
	return rec
}

func denyCode(v pdp.Verdict) string {
	if !v.PolicyAllow {
		return v.PolicyCode
	}
	return v.EnforcerCode
}
