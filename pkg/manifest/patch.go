package manifest

import (
	"context"
	"fmt"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/store"
)

// OpKind discriminates the patch document's operation variants (spec
// §4.2), modeled as a closed tagged union of the nine op shapes a patch
// can carry.
type OpKind string

const (
	OpAddDef            OpKind = "AddDef"
	OpReplaceDef        OpKind = "ReplaceDef"
	OpRemoveDef         OpKind = "RemoveDef"
	OpSetManifestRefs   OpKind = "SetManifestRefs"
	OpSetDefaults       OpKind = "SetDefaults"
	OpSetRouting        OpKind = "SetRouting"
	OpSetTriggers       OpKind = "SetTriggers"
	OpSetModuleBindings OpKind = "SetModuleBindings"
	OpSetSecrets        OpKind = "SetSecrets"
)

// Op is one patch operation. Exactly the fields relevant to Kind are
// populated. A non-zero PreHash fences concurrent writers: Compile fails
// unless it equals the hash of the current value the op replaces (the
// named def for ReplaceDef/RemoveDef; the routing, trigger, binding or
// secret list for SetRouting/SetTriggers/SetModuleBindings/SetSecrets).
// AddDef, SetManifestRefs and SetDefaults ignore it.
type Op struct {
	Kind OpKind `cbor:"kind"`

	DefKind Kind   `cbor:"def_kind,omitempty"`
	Name    string `cbor:"name,omitempty"`
	Node    any    `cbor:"node,omitempty"`

	AddRefs    []Ref `cbor:"add_refs,omitempty"`
	RemoveRefs []Ref `cbor:"remove_refs,omitempty"`

	Policy    string     `cbor:"policy,omitempty"`
	CapGrants []CapGrant `cbor:"cap_grants,omitempty"`

	Routing  []RouteEntry    `cbor:"routing,omitempty"`
	Triggers []TriggerEntry  `cbor:"triggers,omitempty"`
	Bindings []ModuleBinding `cbor:"bindings,omitempty"`
	Secrets  []SecretDef     `cbor:"secrets,omitempty"`

	PreHash codec.Hash `cbor:"pre_hash,omitempty"`
}

// PatchDocument is the semantic patch spec §4.2 describes: a base
// manifest hash plus an ordered list of operations to fold onto it.
type PatchDocument struct {
	BaseManifestHash codec.Hash `cbor:"base_manifest_hash"`
	Description      string     `cbor:"description,omitempty"`
	Ops              []Op       `cbor:"ops"`
}

// ManifestPatch is the compiled result: the candidate manifest, the full
// set of newly stored node bodies (by name, for governance shadow
// reporting), and the resolved LoadedManifest a governance Apply step
// installs as the kernel's new live manifest.
type ManifestPatch struct {
	Manifest  Manifest
	Hash      codec.Hash
	Nodes     map[string]any
	Installed *LoadedManifest
}

// Compile loads the base manifest (base must already be resolved), folds
// patch's operations onto it in order, verifies every op's PreHash fence,
// canonicalizes new node bodies, and recomputes the result's hash.
//
// Errors: kind mismatch (an AddDef DefKind that is not one of the seven
// def kinds), pre-hash mismatch, unknown name, name collision, dangling
// reference; the first one found fails the whole compile. A node's Go
// type is not checked against its op's DefKind.
func Compile(ctx context.Context, cas store.CAS, base *LoadedManifest, patch PatchDocument) (*ManifestPatch, error) {
	if base.Hash != patch.BaseManifestHash {
		return nil, fmt.Errorf("manifest: patch base hash %s does not match loaded manifest %s", patch.BaseManifestHash, base.Hash)
	}

	m := base.Manifest // shallow copy; slice fields are replaced wholesale by ops, never mutated in place
	nodes := make(map[string]any)

	byKindName := map[Kind]map[string]codec.Hash{
		KindSchema:     refIndex(m.Schemas),
		KindModule:     refIndex(m.Modules),
		KindPlan:       refIndex(m.Plans),
		KindEffect:     refIndex(m.Effects),
		KindCapability: refIndex(m.Capabilities),
		KindPolicy:     refIndex(m.Policies),
		KindSecret:     refIndex(m.Secrets),
	}

	for i, op := range patch.Ops {
		var err error
		switch op.Kind {
		case OpAddDef:
			err = applyAddDef(ctx, cas, op, byKindName, &m, nodes)
		case OpReplaceDef:
			err = applyReplaceDef(ctx, cas, op, byKindName, &m, nodes)
		case OpRemoveDef:
			err = applyRemoveDef(op, byKindName, &m)
		case OpSetManifestRefs:
			applySetManifestRefs(op, &m)
		case OpSetDefaults:
			applySetDefaults(op, &m)
		case OpSetRouting:
			err = checkPreHash(op, m.Routing)
			if err == nil {
				m.Routing = op.Routing
			}
		case OpSetTriggers:
			err = checkPreHash(op, m.Triggers)
			if err == nil {
				m.Triggers = op.Triggers
			}
		case OpSetModuleBindings:
			err = checkPreHash(op, m.Bindings)
			if err == nil {
				m.Bindings = op.Bindings
			}
		case OpSetSecrets:
			err = applySetSecrets(ctx, cas, op, byKindName, &m, nodes)
		default:
			err = fmt.Errorf("manifest: unknown op kind %q", op.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("manifest: op %d (%s): %w", i, op.Kind, err)
		}
	}

	// Copy each def map rather than aliasing base's: Compile may be called
	// speculatively (governance's shadow phase) and must never mutate the
	// live installed manifest it was compiled against.
	lm := &LoadedManifest{
		Manifest:     m,
		Schemas:      cloneDefMap(base.Schemas),
		Modules:      cloneDefMap(base.Modules),
		Plans:        cloneDefMap(base.Plans),
		Effects:      cloneDefMap(base.Effects),
		Capabilities: cloneDefMap(base.Capabilities),
		Policies:     cloneDefMap(base.Policies),
		Secrets:      cloneDefMap(base.Secrets),
	}
	mergeNodesIntoIndex(nodes, lm)

	if err := validateReferences(m, lm); err != nil {
		return nil, err
	}

	h, err := m.Hash()
	if err != nil {
		return nil, fmt.Errorf("manifest: hash candidate manifest: %w", err)
	}
	lm.Hash = h

	return &ManifestPatch{Manifest: m, Hash: h, Nodes: nodes, Installed: lm}, nil
}

func refIndex(refs []Ref) map[string]codec.Hash {
	idx := make(map[string]codec.Hash, len(refs))
	for _, r := range refs {
		idx[r.Name] = r.Hash
	}
	return idx
}

func checkPreHash(op Op, current any) error {
	if op.PreHash.IsZero() {
		return nil
	}
	h, err := codec.HashValue(current)
	if err != nil {
		return err
	}
	if h != op.PreHash {
		return fmt.Errorf("pre-hash mismatch: expected %s, current %s", op.PreHash, h)
	}
	return nil
}

func applyAddDef(ctx context.Context, cas store.CAS, op Op, idx map[Kind]map[string]codec.Hash, m *Manifest, nodes map[string]any) error {
	if idx[op.DefKind] == nil {
		return fmt.Errorf("kind mismatch: %q is not a def kind", op.DefKind)
	}
	if _, exists := idx[op.DefKind][op.Name]; exists {
		return fmt.Errorf("name collision: %s %q already exists", op.DefKind, op.Name)
	}
	h, err := cas.PutNode(ctx, op.Node)
	if err != nil {
		return err
	}
	idx[op.DefKind][op.Name] = h
	nodes[op.Name] = op.Node
	appendRef(m, op.DefKind, Ref{Name: op.Name, Hash: h})
	return nil
}

func applyReplaceDef(ctx context.Context, cas store.CAS, op Op, idx map[Kind]map[string]codec.Hash, m *Manifest, nodes map[string]any) error {
	cur, ok := idx[op.DefKind][op.Name]
	if !ok {
		return fmt.Errorf("unknown name: %s %q", op.DefKind, op.Name)
	}
	if !op.PreHash.IsZero() && cur != op.PreHash {
		return fmt.Errorf("pre-hash mismatch on %s %q: expected %s, current %s", op.DefKind, op.Name, op.PreHash, cur)
	}
	h, err := cas.PutNode(ctx, op.Node)
	if err != nil {
		return err
	}
	idx[op.DefKind][op.Name] = h
	nodes[op.Name] = op.Node
	replaceRef(m, op.DefKind, Ref{Name: op.Name, Hash: h})
	return nil
}

func applyRemoveDef(op Op, idx map[Kind]map[string]codec.Hash, m *Manifest) error {
	cur, ok := idx[op.DefKind][op.Name]
	if !ok {
		return fmt.Errorf("unknown name: %s %q", op.DefKind, op.Name)
	}
	if !op.PreHash.IsZero() && cur != op.PreHash {
		return fmt.Errorf("pre-hash mismatch on %s %q: expected %s, current %s", op.DefKind, op.Name, op.PreHash, cur)
	}
	delete(idx[op.DefKind], op.Name)
	removeRef(m, op.DefKind, op.Name)
	return nil
}

func applySetManifestRefs(op Op, m *Manifest) {
	for _, r := range op.AddRefs {
		appendRef(m, op.DefKind, r)
	}
	for _, r := range op.RemoveRefs {
		removeRef(m, op.DefKind, r.Name)
	}
}

func applySetDefaults(op Op, m *Manifest) {
	if op.Policy != "" {
		m.Defaults.Policy = op.Policy
	}
	if op.CapGrants != nil {
		m.Defaults.CapGrants = op.CapGrants
	}
}

func applySetSecrets(ctx context.Context, cas store.CAS, op Op, idx map[Kind]map[string]codec.Hash, m *Manifest, nodes map[string]any) error {
	if err := checkPreHash(op, m.Secrets); err != nil {
		return err
	}
	var refs []Ref
	for _, s := range op.Secrets {
		h, err := cas.PutNode(ctx, s)
		if err != nil {
			return err
		}
		idx[KindSecret][s.Alias] = h
		nodes[s.Alias] = s
		refs = append(refs, Ref{Name: s.Alias, Hash: h})
	}
	m.Secrets = refs
	return nil
}

func appendRef(m *Manifest, kind Kind, r Ref) {
	switch kind {
	case KindSchema:
		m.Schemas = upsertRef(m.Schemas, r)
	case KindModule:
		m.Modules = upsertRef(m.Modules, r)
	case KindPlan:
		m.Plans = upsertRef(m.Plans, r)
	case KindEffect:
		m.Effects = upsertRef(m.Effects, r)
	case KindCapability:
		m.Capabilities = upsertRef(m.Capabilities, r)
	case KindPolicy:
		m.Policies = upsertRef(m.Policies, r)
	case KindSecret:
		m.Secrets = upsertRef(m.Secrets, r)
	}
}

func replaceRef(m *Manifest, kind Kind, r Ref) {
	appendRef(m, kind, r)
}

func removeRef(m *Manifest, kind Kind, name string) {
	switch kind {
	case KindSchema:
		m.Schemas = deleteRef(m.Schemas, name)
	case KindModule:
		m.Modules = deleteRef(m.Modules, name)
	case KindPlan:
		m.Plans = deleteRef(m.Plans, name)
	case KindEffect:
		m.Effects = deleteRef(m.Effects, name)
	case KindCapability:
		m.Capabilities = deleteRef(m.Capabilities, name)
	case KindPolicy:
		m.Policies = deleteRef(m.Policies, name)
	case KindSecret:
		m.Secrets = deleteRef(m.Secrets, name)
	}
}

func upsertRef(refs []Ref, r Ref) []Ref {
	for i, existing := range refs {
		if existing.Name == r.Name {
			refs[i] = r
			return refs
		}
	}
	return append(refs, r)
}

func deleteRef(refs []Ref, name string) []Ref {
	out := refs[:0]
	for _, r := range refs {
		if r.Name != name {
			out = append(out, r)
		}
	}
	return out
}

func cloneDefMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeNodesIntoIndex(nodes map[string]any, lm *LoadedManifest) {
	for name, n := range nodes {
		switch def := n.(type) {
		case SchemaDef:
			lm.Schemas[name] = def
		case ModuleDef:
			lm.Modules[name] = def
		case PlanDef:
			lm.Plans[name] = def
		case EffectDef:
			lm.Effects[name] = def
		case CapabilityDef:
			lm.Capabilities[name] = def
		case PolicyDef:
			lm.Policies[name] = def
		case SecretDef:
			lm.Secrets[name] = def
		}
	}
}
