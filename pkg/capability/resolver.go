// Package capability resolves the manifest's capability grants into the
// form the effect manager and PDP gate need at runtime: a stable
// grant_hash, the cap's type and declared params, and its enforcer
// module hash if it has one.
package capability

import (
	"fmt"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/manifest"
)

// Resolved is what a grant resolves to: everything the gate needs to
// evaluate an intent against this capability without touching the
// manifest again.
type Resolved struct {
	GrantName    string
	GrantHash    codec.Hash
	CapType      string
	ParamsSchema string
	EnforcerHash codec.Hash // zero if the capability has no enforcer
	ExpiryNs     int64
	Budget       int64
}

// Resolver builds, from a loaded manifest, the grant_name → Resolved
// mapping (spec §4.3). A grant naming an unknown capability is a fatal
// installation error. Module-slot bindings are not resolved ahead of
// time: SlotGrant looks each one up in the manifest when it is called.
type Resolver struct {
	grants map[string]Resolved
}

// NewResolver resolves every capability grant declared in lm.Defaults
// against lm's capability defs, failing fast if any grant references an
// unknown capability. It does not check module slots; the manifest
// loader (pkg/manifest) rejects a binding to an unknown grant via
// validateReferences.
func NewResolver(lm *manifest.LoadedManifest) (*Resolver, error) {
	r := &Resolver{grants: make(map[string]Resolved, len(lm.Manifest.Defaults.CapGrants))}

	for _, g := range lm.Manifest.Defaults.CapGrants {
		cap, ok := lm.Capabilities[g.Cap]
		if !ok {
			return nil, fmt.Errorf("capability: grant %q references unknown capability %q", g.Name, g.Cap)
		}

		grantHash, err := codec.HashValue(g)
		if err != nil {
			return nil, fmt.Errorf("capability: hash grant %q: %w", g.Name, err)
		}

		var enforcerHash codec.Hash
		if cap.EnforcerHash != "" {
			enforcerHash, err = codec.ParseHash(cap.EnforcerHash)
			if err != nil {
				return nil, fmt.Errorf("capability: %q has invalid enforcer hash: %w", cap.Name, err)
			}
		}

		r.grants[g.Name] = Resolved{
			GrantName:    g.Name,
			GrantHash:    grantHash,
			CapType:      cap.CapType,
			ParamsSchema: cap.ParamsSchema,
			EnforcerHash: enforcerHash,
			ExpiryNs:     g.ExpiryNs,
			Budget:       g.Budget,
		}
	}

	return r, nil
}

// Grant returns the resolved form of a named grant.
func (r *Resolver) Grant(name string) (Resolved, error) {
	g, ok := r.grants[name]
	if !ok {
		return Resolved{}, fmt.Errorf("capability: unknown grant %q", name)
	}
	return g, nil
}

// SlotGrant resolves the capability grant bound to a module's named
// slot, by delegating to the loaded manifest's binding table and then
// resolving the bound grant through this resolver.
func (r *Resolver) SlotGrant(lm *manifest.LoadedManifest, module, slot string) (Resolved, error) {
	g, err := lm.ModuleSlot(module, slot)
	if err != nil {
		return Resolved{}, err
	}
	return r.Grant(g.Name)
}
