package manifest

import (
	"fmt"

	"github.com/aoscore/aos/pkg/codec"
)

// Kind discriminates the tagged-union Node variants the store holds,
// one per def kind a manifest can reference.
type Kind string

const (
	KindSchema     Kind = "Schema"
	KindModule     Kind = "Module"
	KindPlan       Kind = "Plan"
	KindCapability Kind = "Capability"
	KindPolicy     Kind = "Policy"
	KindEffect     Kind = "Effect"
	KindSecret     Kind = "Secret"
	KindManifest   Kind = "Manifest"
)

// SchemaDef names a JSON-Schema-validated record shape along with the
// codec.Schema array metadata needed to canonicalize values of that shape.
type SchemaDef struct {
	Name       string          `cbor:"name"`
	JSONSchema string          `cbor:"json_schema"`
	Arrays     codec.Schema    `cbor:"-"`
}

// ModuleDef addresses a sandboxed wasm program by its content hash, plus
// the effect kinds it is allowed to emit and the capability slots it
// requires (bound per-manifest by ModuleBinding).
type ModuleDef struct {
	Name           string   `cbor:"name"`
	Version        string   `cbor:"version"`
	WasmHash       string   `cbor:"wasm_hash"`
	EventSchema    string   `cbor:"event_schema"`
	EffectsEmitted []string `cbor:"effects_emitted"`
	Slots          []string `cbor:"slots"`
	IsEnforcer     bool     `cbor:"is_enforcer"`
}

// PlanDef is the serialized form of a plan's step DAG (spec §4.5); the
// step bodies themselves are opaque here and interpreted by pkg/plan.
type PlanDef struct {
	Name  string          `cbor:"name"`
	Steps []PlanStepDef   `cbor:"steps"`
}

// PlanStepDef is one DAG node: its kind, its action-specific params, and
// the names of the steps it depends on (edges carry an optional guard
// expression evaluated over the plan env).
type PlanStepDef struct {
	Name    string            `cbor:"name"`
	Kind    string            `cbor:"kind"`
	Params  map[string]any    `cbor:"params"`
	Deps    []PlanEdgeDef     `cbor:"deps"`
}

// PlanEdgeDef is a dependency edge with an optional boolean guard.
type PlanEdgeDef struct {
	From  string `cbor:"from"`
	Guard string `cbor:"guard,omitempty"`
}

// CapabilityDef declares a capability type, its param schema, and the
// hash of the pure wasm enforcer module that gates intents of this type.
type CapabilityDef struct {
	Name          string `cbor:"name"`
	CapType       string `cbor:"cap_type"`
	ParamsSchema  string `cbor:"params_schema"`
	EnforcerHash  string `cbor:"enforcer_hash,omitempty"`
	DefaultBudget int64  `cbor:"default_budget,omitempty"`
}

// PolicyRule is one first-match ordered rule evaluated at an Enqueue or
// Settle gate (spec §4.3).
type PolicyRule struct {
	EffectKind string `cbor:"effect_kind,omitempty"`
	OriginKind string `cbor:"origin_kind,omitempty"`
	CapType    string `cbor:"cap_type,omitempty"`
	GrantName  string `cbor:"grant_name,omitempty"`
	Decision   string `cbor:"decision"` // "Allow" | "Deny"
	Code       string `cbor:"code,omitempty"`
}

// PolicyDef is an ordered list of rules evaluated top-to-bottom.
type PolicyDef struct {
	Name  string       `cbor:"name"`
	Rules []PolicyRule `cbor:"rules"`
}

// EffectDef declares one effect kind's params and receipt schemas.
type EffectDef struct {
	Name          string `cbor:"name"`
	ParamsSchema  string `cbor:"params_schema"`
	ReceiptSchema string `cbor:"receipt_schema"`
}

// SecretDef names a secret alias and the plans/caps allowed to resolve it.
type SecretDef struct {
	Alias       string   `cbor:"alias"`
	AllowedCaps []string `cbor:"allowed_caps,omitempty"`
	AllowedPlans []string `cbor:"allowed_plans,omitempty"`
}

// Ref is a named pointer into the store, resolved by name at load time and
// by hash thereafter; the zero Hash is the "placeholder" the loader fills
// in once the referenced node has been stored.
type Ref struct {
	Name string     `cbor:"name"`
	Hash codec.Hash `cbor:"hash"`
}

// ModuleBinding ties a module's declared slot name to a capability grant.
type ModuleBinding struct {
	Module string `cbor:"module"`
	Slot   string `cbor:"slot"`
	Grant  string `cbor:"grant"`
}

// RouteEntry maps an event schema to the module(s) subscribed to it, with
// an optional key field used to shard dispatch by instance key.
type RouteEntry struct {
	EventSchema string   `cbor:"event_schema"`
	Modules     []string `cbor:"modules"`
	KeyField    string   `cbor:"key_field,omitempty"`
}

// TriggerEntry maps an event schema directly to a plan to spawn.
type TriggerEntry struct {
	EventSchema string `cbor:"event_schema"`
	Plan        string `cbor:"plan"`
}

// CapGrant binds a stable name to a capability def, parameterized by a
// literal record, with optional expiry and spend budget.
type CapGrant struct {
	Name     string         `cbor:"name"`
	Cap      string         `cbor:"cap"`
	Params   map[string]any `cbor:"params,omitempty"`
	ExpiryNs int64          `cbor:"expiry_ns,omitempty"`
	Budget   int64          `cbor:"budget,omitempty"`
}

// Defaults carries manifest-wide defaults applied at install: the active
// policy and the initial set of capability grants.
type Defaults struct {
	Policy    string     `cbor:"policy,omitempty"`
	CapGrants []CapGrant `cbor:"cap_grants,omitempty"`
}

// Manifest is the immutable, content-addressed world definition (spec §3):
// ordered reference lists plus defaults, bindings, routing and triggers.
// Its hash is the hash of its canonical encoding.
type Manifest struct {
	Schemas      []Ref           `cbor:"schemas"`
	Modules      []Ref           `cbor:"modules"`
	Plans        []Ref           `cbor:"plans"`
	Effects      []Ref           `cbor:"effects"`
	Capabilities []Ref           `cbor:"capabilities"`
	Policies     []Ref           `cbor:"policies"`
	Secrets      []Ref           `cbor:"secrets"`
	Defaults     Defaults        `cbor:"defaults"`
	Bindings     []ModuleBinding `cbor:"bindings"`
	Routing      []RouteEntry    `cbor:"routing"`
	Triggers     []TriggerEntry  `cbor:"triggers"`
}

// Hash returns the content hash of m's canonical encoding.
func (m Manifest) Hash() (codec.Hash, error) {
	return codec.HashValue(m)
}

// LoadedManifest is the manifest plus every referenced definition indexed
// by name (spec §3); read-only to the kernel after install.
type LoadedManifest struct {
	Hash     codec.Hash
	Manifest Manifest

	Schemas      map[string]SchemaDef
	Modules      map[string]ModuleDef
	Plans        map[string]PlanDef
	Effects      map[string]EffectDef
	Capabilities map[string]CapabilityDef
	Policies     map[string]PolicyDef
	Secrets      map[string]SecretDef
}

// ModuleSlot resolves the capability grant bound to module's named slot.
func (lm *LoadedManifest) ModuleSlot(module, slot string) (CapGrant, error) {
	for _, b := range lm.Manifest.Bindings {
		if b.Module == module && b.Slot == slot {
			for _, g := range lm.Manifest.Defaults.CapGrants {
				if g.Name == b.Grant {
					return g, nil
				}
			}
			return CapGrant{}, fmt.Errorf("manifest: slot %s/%s bound to unknown grant %q", module, slot, b.Grant)
		}
	}
	return CapGrant{}, fmt.Errorf("manifest: module %q has no binding for slot %q", module, slot)
}

// RouteFor returns the routing entry for an event schema, if any.
func (lm *LoadedManifest) RouteFor(eventSchema string) (RouteEntry, bool) {
	for _, r := range lm.Manifest.Routing {
		if r.EventSchema == eventSchema {
			return r, true
		}
	}
	return RouteEntry{}, false
}

// TriggerFor returns the plan triggered by an event schema, if any.
func (lm *LoadedManifest) TriggerFor(eventSchema string) (string, bool) {
	for _, t := range lm.Manifest.Triggers {
		if t.EventSchema == eventSchema {
			return t.Plan, true
		}
	}
	return "", false
}
