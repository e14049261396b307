package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/capability"
	"github.com/aoscore/aos/pkg/effect"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/pdp"
	"github.com/aoscore/aos/pkg/policy"
	"github.com/aoscore/aos/pkg/secretref"
)

type fakeJournal struct{ seq uint64 }

func (f *fakeJournal) Append(_ context.Context, _ string, _ any) (uint64, error) {
	f.seq++
	return f.seq, nil
}

type fakeSecretSource struct{}

func (fakeSecretSource) Fetch(context.Context, string, string) ([]byte, error) { return nil, nil }

type noSpawner struct{}

func (noSpawner) Spawn(context.Context, string, any) (string, error) { return "", nil }

func testManager(t *testing.T) *effect.Manager {
	t.Helper()
	lm := &manifest.LoadedManifest{
		Manifest: manifest.Manifest{
			Defaults: manifest.Defaults{
				Policy: "default",
				CapGrants: []manifest.CapGrant{
					{Name: "http-grant", Cap: "http"},
				},
			},
		},
		Modules: map[string]manifest.ModuleDef{},
		Capabilities: map[string]manifest.CapabilityDef{
			"http": {Name: "http", CapType: "http"},
		},
		Effects: map[string]manifest.EffectDef{
			"http.request": {Name: "http.request"},
		},
		Policies: map[string]manifest.PolicyDef{
			"default": {Name: "default", Rules: []manifest.PolicyRule{{Decision: "Allow"}}},
		},
		Secrets: map[string]manifest.SecretDef{},
	}
	resolver, err := capability.NewResolver(lm)
	require.NoError(t, err)
	engine, err := policy.NewEngine()
	require.NoError(t, err)
	gate := pdp.NewGate(lm, resolver, engine, nil)
	return effect.NewManager(lm, gate, secretref.NewResolver(fakeSecretSource{}), &fakeJournal{})
}

func linearPlan() manifest.PlanDef {
	return manifest.PlanDef{
		Name: "demo.linear",
		Steps: []manifest.PlanStepDef{
			{
				Name: "emit",
				Kind: string(StepEmitEffect),
				Params: map[string]any{
					"kind":        "http.request",
					"cap":         "http-grant",
					"bind":        "h1",
					"params_expr": `{"url": "https://example.test"}`,
				},
			},
			{
				Name: "wait",
				Kind: string(StepAwaitReceipt),
				Params: map[string]any{"handle": "h1"},
				Deps:   []manifest.PlanEdgeDef{{From: "emit"}},
			},
			{
				Name: "done",
				Kind: string(StepEnd),
				Deps: []manifest.PlanEdgeDef{{From: "wait"}},
			},
		},
	}
}

func TestTickEmitsThenWaits(t *testing.T) {
	mgr := testManager(t)
	eng, err := NewEngine(mgr, noSpawner{})
	require.NoError(t, err)

	inst := NewInstance("demo.linear", "p1", linearPlan(), nil, nil)
	require.NoError(t, eng.Tick(context.Background(), inst))

	require.Equal(t, StatusCompleted, inst.StepStates["emit"])
	require.Equal(t, StatusWaitingReceipt, inst.StepStates["wait"])
	require.Equal(t, StatusPending, inst.StepStates["done"])
	require.Equal(t, OutcomeRunning, inst.Outcome)

	handle := inst.Steps["emit"].(string)
	require.Equal(t, "h1", handle)
	require.Contains(t, inst.EffectHandles, "h1")

	require.NoError(t, eng.DeliverReceipt(inst, "h1", map[string]any{"status_code": int64(200)}))
	require.Equal(t, StatusCompleted, inst.StepStates["wait"])

	require.NoError(t, eng.Tick(context.Background(), inst))
	require.Equal(t, StatusCompleted, inst.StepStates["done"])
	require.Equal(t, OutcomeEnded, inst.Outcome)
}

func TestGuardFalsePropagatesSkipped(t *testing.T) {
	mgr := testManager(t)
	eng, err := NewEngine(mgr, noSpawner{})
	require.NoError(t, err)

	def := manifest.PlanDef{
		Name: "demo.guarded",
		Steps: []manifest.PlanStepDef{
			{Name: "start", Kind: string(StepEnd)},
			{
				Name: "maybe",
				Kind: string(StepEnd),
				Deps: []manifest.PlanEdgeDef{{From: "start", Guard: "false"}},
			},
		},
	}
	inst := NewInstance("demo.guarded", "p2", def, nil, nil)

	require.NoError(t, eng.Tick(context.Background(), inst))
	require.Equal(t, StatusCompleted, inst.StepStates["start"])

	require.NoError(t, eng.Tick(context.Background(), inst))
	require.Equal(t, StatusSkipped, inst.StepStates["maybe"])
	require.Equal(t, OutcomeEnded, inst.Outcome)
}

func TestAwaitEventResumesOnDeliverEvent(t *testing.T) {
	mgr := testManager(t)
	eng, err := NewEngine(mgr, noSpawner{})
	require.NoError(t, err)

	def := manifest.PlanDef{
		Name: "demo.event",
		Steps: []manifest.PlanStepDef{
			{Name: "wait_for_it", Kind: string(StepAwaitEvent), Params: map[string]any{"schema": "timer.fired"}},
		},
	}
	inst := NewInstance("demo.event", "p3", def, nil, nil)
	require.NoError(t, eng.Tick(context.Background(), inst))
	require.Equal(t, StatusWaitingEvent, inst.StepStates["wait_for_it"])

	eng.DeliverEvent(inst, "timer.fired", map[string]any{"at": int64(42)})
	require.Equal(t, StatusCompleted, inst.StepStates["wait_for_it"])
	require.NoError(t, eng.Tick(context.Background(), inst))
	require.Equal(t, OutcomeEnded, inst.Outcome)
}
