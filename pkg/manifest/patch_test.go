package manifest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/store"
)

func baseLoadedManifest(t *testing.T, cas store.CAS) *manifest.LoadedManifest {
	t.Helper()
	lm := &manifest.LoadedManifest{
		Manifest: manifest.Manifest{
			Capabilities: []manifest.Ref{},
		},
		Schemas:      map[string]manifest.SchemaDef{},
		Modules:      map[string]manifest.ModuleDef{},
		Plans:        map[string]manifest.PlanDef{},
		Effects:      map[string]manifest.EffectDef{},
		Capabilities: map[string]manifest.CapabilityDef{},
		Policies:     map[string]manifest.PolicyDef{},
		Secrets:      map[string]manifest.SecretDef{},
	}
	h, err := lm.Manifest.Hash()
	require.NoError(t, err)
	lm.Hash = h
	return lm
}

func TestCompileAddDefAppendsRefAndStoresNode(t *testing.T) {
	cas := store.NewMemCAS()
	base := baseLoadedManifest(t, cas)

	patch := manifest.PatchDocument{
		BaseManifestHash: base.Hash,
		Ops: []manifest.Op{
			{
				Kind:    manifest.OpAddDef,
				DefKind: manifest.KindCapability,
				Name:    "http",
				Node:    manifest.CapabilityDef{Name: "http", CapType: "http"},
			},
		},
	}

	mp, err := manifest.Compile(context.Background(), cas, base, patch)
	require.NoError(t, err)
	require.Len(t, mp.Manifest.Capabilities, 1)
	require.Equal(t, "http", mp.Manifest.Capabilities[0].Name)
	require.Contains(t, mp.Installed.Capabilities, "http")

	// The base manifest must be untouched by a speculative compile.
	require.Empty(t, base.Capabilities)
	require.Empty(t, base.Manifest.Capabilities)
}

func TestCompileRejectsBaseHashMismatch(t *testing.T) {
	cas := store.NewMemCAS()
	base := baseLoadedManifest(t, cas)

	patch := manifest.PatchDocument{BaseManifestHash: [32]byte{1, 2, 3}}
	_, err := manifest.Compile(context.Background(), cas, base, patch)
	require.Error(t, err)
}

func TestCompileRejectsAddDefCollision(t *testing.T) {
	cas := store.NewMemCAS()
	base := baseLoadedManifest(t, cas)
	base.Manifest.Capabilities = []manifest.Ref{{Name: "http"}}
	base.Capabilities["http"] = manifest.CapabilityDef{Name: "http"}
	h, err := base.Manifest.Hash()
	require.NoError(t, err)
	base.Hash = h

	patch := manifest.PatchDocument{
		BaseManifestHash: base.Hash,
		Ops: []manifest.Op{
			{Kind: manifest.OpAddDef, DefKind: manifest.KindCapability, Name: "http", Node: manifest.CapabilityDef{Name: "http"}},
		},
	}
	_, err = manifest.Compile(context.Background(), cas, base, patch)
	require.Error(t, err)
}

func TestCompileRejectsStalePreHashOnReplace(t *testing.T) {
	cas := store.NewMemCAS()
	base := baseLoadedManifest(t, cas)
	capHash, err := cas.PutNode(context.Background(), manifest.CapabilityDef{Name: "http"})
	require.NoError(t, err)
	base.Manifest.Capabilities = []manifest.Ref{{Name: "http", Hash: capHash}}
	base.Capabilities["http"] = manifest.CapabilityDef{Name: "http"}
	h, err := base.Manifest.Hash()
	require.NoError(t, err)
	base.Hash = h

	patch := manifest.PatchDocument{
		BaseManifestHash: base.Hash,
		Ops: []manifest.Op{
			{
				Kind:    manifest.OpReplaceDef,
				DefKind: manifest.KindCapability,
				Name:    "http",
				Node:    manifest.CapabilityDef{Name: "http", CapType: "http2"},
				PreHash: [32]byte{9, 9, 9},
			},
		},
	}
	_, err = manifest.Compile(context.Background(), cas, base, patch)
	require.Error(t, err)
}

func TestCompileSetDefaultsAndValidatesGrant(t *testing.T) {
	cas := store.NewMemCAS()
	base := baseLoadedManifest(t, cas)

	patch := manifest.PatchDocument{
		BaseManifestHash: base.Hash,
		Ops: []manifest.Op{
			{Kind: manifest.OpAddDef, DefKind: manifest.KindCapability, Name: "http", Node: manifest.CapabilityDef{Name: "http"}},
			{
				Kind: manifest.OpSetDefaults,
				CapGrants: []manifest.CapGrant{
					{Name: "http-grant", Cap: "http"},
				},
			},
		},
	}
	mp, err := manifest.Compile(context.Background(), cas, base, patch)
	require.NoError(t, err)
	require.Len(t, mp.Manifest.Defaults.CapGrants, 1)
}

func TestCompileRejectsDefaultsReferencingUnknownCapability(t *testing.T) {
	cas := store.NewMemCAS()
	base := baseLoadedManifest(t, cas)

	patch := manifest.PatchDocument{
		BaseManifestHash: base.Hash,
		Ops: []manifest.Op{
			{
				Kind: manifest.OpSetDefaults,
				CapGrants: []manifest.CapGrant{
					{Name: "http-grant", Cap: "no-such-cap"},
				},
			},
		},
	}
	_, err := manifest.Compile(context.Background(), cas, base, patch)
	require.Error(t, err)
}
