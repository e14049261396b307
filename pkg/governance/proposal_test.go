package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/store"
)

type fakeQuiescence struct{ quiet bool }

func (f fakeQuiescence) Quiescent(context.Context) (bool, error) { return f.quiet, nil }

func baseManifest(t *testing.T) *manifest.LoadedManifest {
	t.Helper()
	lm := &manifest.LoadedManifest{
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

func addModulePatch(base *manifest.LoadedManifest, name string) manifest.PatchDocument {
	return manifest.PatchDocument{
		BaseManifestHash: base.Hash,
		Ops: []manifest.Op{
			{Kind: manifest.OpAddDef, DefKind: manifest.KindModule, Name: name, Node: manifest.ModuleDef{Name: name}},
		},
	}
}

func TestProposalLifecycleHappyPath(t *testing.T) {
	cas := store.NewMemCAS()
	policy, err := NewCELPatchPolicy()
	require.NoError(t, err)
	pipe := NewPipeline(cas, policy, fakeQuiescence{quiet: true})
	base := baseManifest(t)

	_, err = pipe.Submit("p1", addModulePatch(base, "demo.counter"))
	require.NoError(t, err)

	prop, err := pipe.Shadow(context.Background(), base, "p1")
	require.NoError(t, err)
	require.Equal(t, StatusShadow, prop.Status)

	prop, err = pipe.Approve("p1")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, prop.Status)

	installed, err := pipe.Apply(context.Background(), "p1")
	require.NoError(t, err)
	require.Contains(t, installed.Modules, "demo.counter")

	prop, err = pipe.Get("p1")
	require.NoError(t, err)
	require.Equal(t, StatusApplied, prop.Status)
}

func TestShadowRejectsPolicyViolation(t *testing.T) {
	cas := store.NewMemCAS()
	policy, err := NewCELPatchPolicy()
	require.NoError(t, err)
	pipe := NewPipeline(cas, policy, fakeQuiescence{quiet: true})
	base := baseManifest(t)

	_, err = pipe.Submit("bad", addModulePatch(base, "not a valid name!"))
	require.NoError(t, err)

	_, err = pipe.Shadow(context.Background(), base, "bad")
	require.Error(t, err)

	prop, err := pipe.Get("bad")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, prop.Status)
}

func TestApplyBlocksWhenNotQuiescent(t *testing.T) {
	cas := store.NewMemCAS()
	pipe := NewPipeline(cas, nil, fakeQuiescence{quiet: false})
	base := baseManifest(t)

	_, err := pipe.Submit("p2", addModulePatch(base, "demo.counter"))
	require.NoError(t, err)
	_, err = pipe.Shadow(context.Background(), base, "p2")
	require.NoError(t, err)
	_, err = pipe.Approve("p2")
	require.NoError(t, err)

	_, err = pipe.Apply(context.Background(), "p2")
	require.Error(t, err)

	prop, err := pipe.Get("p2")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, prop.Status, "a blocked apply must not advance the proposal's status")
}

func TestApplyRequiresApprovedState(t *testing.T) {
	cas := store.NewMemCAS()
	pipe := NewPipeline(cas, nil, fakeQuiescence{quiet: true})
	base := baseManifest(t)

	_, err := pipe.Submit("p3", addModulePatch(base, "demo.counter"))
	require.NoError(t, err)
	_, err = pipe.Apply(context.Background(), "p3")
	require.Error(t, err)
}

func TestRejectFromShadowState(t *testing.T) {
	cas := store.NewMemCAS()
	pipe := NewPipeline(cas, nil, fakeQuiescence{quiet: true})
	base := baseManifest(t)

	_, err := pipe.Submit("p4", addModulePatch(base, "demo.counter"))
	require.NoError(t, err)
	_, err = pipe.Shadow(context.Background(), base, "p4")
	require.NoError(t, err)

	prop, err := pipe.Reject("p4", "operator declined")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, prop.Status)
	require.Equal(t, "operator declined", prop.Reason)
}
