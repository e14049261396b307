package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/store"
)

// nodeFile is the on-disk shape of one manifest source file: a kind tag,
// a name, and the kind-specific body as a raw JSON object. This mirrors
// the Bundle{Manifest, Signature, ...} envelope pattern of schema.go,
// generalized from a single Module kind to any of the eight def kinds.
type nodeFile struct {
	Kind Kind            `json:"kind"`
	Name string          `json:"name"`
	Body json.RawMessage `json:"body"`
}

// Loader reads a directory of JSON node files, stores each body in the
// CAS, cross-links names to the resulting hashes, and yields a
// LoadedManifest (spec §4.2). Failure conditions: missing node, name
// collision within a kind, invalid reference kind, schema decode error.
type Loader struct {
	cas store.CAS
}

// NewLoader constructs a Loader backed by cas.
func NewLoader(cas store.CAS) *Loader {
	return &Loader{cas: cas}
}

// LoadDir loads every *.json file directly under dir as a nodeFile.
// Exactly one of them, whatever its file name, must be of kind Manifest,
// holding the Manifest itself with all-zero placeholder hashes in its Ref
// lists (the loader fills these in from the names it discovers among the
// other files).
func (l *Loader) LoadDir(ctx context.Context, dir string) (*LoadedManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: read dir %s: %w", dir, err)
	}

	byKindName := make(map[Kind]map[string]codec.Hash)
	lm := &LoadedManifest{
		Schemas:      make(map[string]SchemaDef),
		Modules:      make(map[string]ModuleDef),
		Plans:        make(map[string]PlanDef),
		Effects:      make(map[string]EffectDef),
		Capabilities: make(map[string]CapabilityDef),
		Policies:     make(map[string]PolicyDef),
		Secrets:      make(map[string]SecretDef),
	}

	var rawManifest *nodeFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("manifest: read %s: %w", path, err)
		}
		var nf nodeFile
		if err := json.Unmarshal(data, &nf); err != nil {
			return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
		}

		if nf.Kind == KindManifest {
			if rawManifest != nil {
				return nil, fmt.Errorf("manifest: more than one manifest node in %s", dir)
			}
			cp := nf
			rawManifest = &cp
			continue
		}

		if err := l.storeNode(ctx, nf, byKindName, lm); err != nil {
			return nil, err
		}
	}

	if rawManifest == nil {
		return nil, fmt.Errorf("manifest: no manifest node found in %s", dir)
	}

	var m Manifest
	if err := json.Unmarshal(rawManifest.Body, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode manifest body: %w", err)
	}

	if err := resolvePlaceholders(&m.Schemas, byKindName[KindSchema]); err != nil {
		return nil, err
	}
	if err := resolvePlaceholders(&m.Modules, byKindName[KindModule]); err != nil {
		return nil, err
	}
	if err := resolvePlaceholders(&m.Plans, byKindName[KindPlan]); err != nil {
		return nil, err
	}
	if err := resolvePlaceholders(&m.Effects, byKindName[KindEffect]); err != nil {
		return nil, err
	}
	if err := resolvePlaceholders(&m.Capabilities, byKindName[KindCapability]); err != nil {
		return nil, err
	}
	if err := resolvePlaceholders(&m.Policies, byKindName[KindPolicy]); err != nil {
		return nil, err
	}
	if err := resolvePlaceholders(&m.Secrets, byKindName[KindSecret]); err != nil {
		return nil, err
	}

	if err := validateReferences(m, lm); err != nil {
		return nil, err
	}

	h, err := m.Hash()
	if err != nil {
		return nil, fmt.Errorf("manifest: hash manifest: %w", err)
	}
	if _, err := l.cas.PutNode(ctx, m); err != nil {
		return nil, fmt.Errorf("manifest: store manifest: %w", err)
	}

	lm.Hash = h
	lm.Manifest = m
	return lm, nil
}

func (l *Loader) storeNode(ctx context.Context, nf nodeFile, byKindName map[Kind]map[string]codec.Hash, lm *LoadedManifest) error {
	if byKindName[nf.Kind] == nil {
		byKindName[nf.Kind] = make(map[string]codec.Hash)
	}
	if _, dup := byKindName[nf.Kind][nf.Name]; dup {
		return fmt.Errorf("manifest: duplicate %s name %q", nf.Kind, nf.Name)
	}

	switch nf.Kind {
	case KindSchema:
		var def SchemaDef
		if err := json.Unmarshal(nf.Body, &def); err != nil {
			return fmt.Errorf("manifest: decode schema %s: %w", nf.Name, err)
		}
		h, err := l.cas.PutNode(ctx, def)
		if err != nil {
			return err
		}
		byKindName[nf.Kind][nf.Name] = h
		lm.Schemas[nf.Name] = def
	case KindModule:
		var def ModuleDef
		if err := json.Unmarshal(nf.Body, &def); err != nil {
			return fmt.Errorf("manifest: decode module %s: %w", nf.Name, err)
		}
		h, err := l.cas.PutNode(ctx, def)
		if err != nil {
			return err
		}
		byKindName[nf.Kind][nf.Name] = h
		lm.Modules[nf.Name] = def
	case KindPlan:
		var def PlanDef
		if err := json.Unmarshal(nf.Body, &def); err != nil {
			return fmt.Errorf("manifest: decode plan %s: %w", nf.Name, err)
		}
		h, err := l.cas.PutNode(ctx, def)
		if err != nil {
			return err
		}
		byKindName[nf.Kind][nf.Name] = h
		lm.Plans[nf.Name] = def
	case KindCapability:
		var def CapabilityDef
		if err := json.Unmarshal(nf.Body, &def); err != nil {
			return fmt.Errorf("manifest: decode capability %s: %w", nf.Name, err)
		}
		h, err := l.cas.PutNode(ctx, def)
		if err != nil {
			return err
		}
		byKindName[nf.Kind][nf.Name] = h
		lm.Capabilities[nf.Name] = def
	case KindPolicy:
		var def PolicyDef
		if err := json.Unmarshal(nf.Body, &def); err != nil {
			return fmt.Errorf("manifest: decode policy %s: %w", nf.Name, err)
		}
		h, err := l.cas.PutNode(ctx, def)
		if err != nil {
			return err
		}
		byKindName[nf.Kind][nf.Name] = h
		lm.Policies[nf.Name] = def
	case KindEffect:
		var def EffectDef
		if err := json.Unmarshal(nf.Body, &def); err != nil {
			return fmt.Errorf("manifest: decode effect %s: %w", nf.Name, err)
		}
		h, err := l.cas.PutNode(ctx, def)
		if err != nil {
			return err
		}
		byKindName[nf.Kind][nf.Name] = h
		lm.Effects[nf.Name] = def
	case KindSecret:
		var def SecretDef
		if err := json.Unmarshal(nf.Body, &def); err != nil {
			return fmt.Errorf("manifest: decode secret %s: %w", nf.Name, err)
		}
		h, err := l.cas.PutNode(ctx, def)
		if err != nil {
			return err
		}
		byKindName[nf.Kind][nf.Name] = h
		lm.Secrets[nf.Name] = def
	default:
		return fmt.Errorf("manifest: invalid node kind %q", nf.Kind)
	}
	return nil
}

// resolvePlaceholders replaces each all-zero-hash Ref in refs with the
// hash stored under its Name, failing if the name was never stored.
func resolvePlaceholders(refs *[]Ref, known map[string]codec.Hash) error {
	for i, r := range *refs {
		if !r.Hash.IsZero() {
			continue
		}
		h, ok := known[r.Name]
		if !ok {
			return fmt.Errorf("manifest: reference to missing node %q", r.Name)
		}
		(*refs)[i].Hash = h
	}
	return nil
}

// validateReferences enforces spec §3's manifest invariant: every slot
// cap exists, every routing/trigger target exists.
func validateReferences(m Manifest, lm *LoadedManifest) error {
	for _, b := range m.Bindings {
		if _, ok := lm.Modules[b.Module]; !ok {
			return fmt.Errorf("manifest: binding references unknown module %q", b.Module)
		}
		found := false
		for _, g := range m.Defaults.CapGrants {
			if g.Name == b.Grant {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("manifest: binding %s/%s references unknown grant %q", b.Module, b.Slot, b.Grant)
		}
	}
	for _, g := range m.Defaults.CapGrants {
		if _, ok := lm.Capabilities[g.Cap]; !ok {
			return fmt.Errorf("manifest: grant %q references unknown capability %q", g.Name, g.Cap)
		}
	}
	for _, r := range m.Routing {
		for _, mod := range r.Modules {
			if _, ok := lm.Modules[mod]; !ok {
				return fmt.Errorf("manifest: routing %q references unknown module %q", r.EventSchema, mod)
			}
		}
	}
	for _, t := range m.Triggers {
		if _, ok := lm.Plans[t.Plan]; !ok {
			return fmt.Errorf("manifest: trigger %q references unknown plan %q", t.EventSchema, t.Plan)
		}
	}
	return nil
}
