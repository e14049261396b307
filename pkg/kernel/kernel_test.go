package kernel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/effect"
	"github.com/aoscore/aos/pkg/journal"
	"github.com/aoscore/aos/pkg/kernel"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/plan"
	"github.com/aoscore/aos/pkg/sandbox"
	"github.com/aoscore/aos/pkg/store"
	"github.com/aoscore/aos/pkg/workflow"
)

type fakeSecretSource struct{}

func (fakeSecretSource) Fetch(context.Context, string, string) ([]byte, error) { return nil, nil }

func testManifest() *manifest.LoadedManifest {
	return &manifest.LoadedManifest{
		Manifest: manifest.Manifest{
			Defaults: manifest.Defaults{
				Policy:    "default",
				CapGrants: []manifest.CapGrant{{Name: "http-grant", Cap: "http"}},
			},
			Routing:  []manifest.RouteEntry{{EventSchema: "counter.incr", Modules: []string{"demo/Counter"}, KeyField: "id"}},
			Triggers: []manifest.TriggerEntry{{EventSchema: "order.created", Plan: "demo.linear"}},
		},
		Modules: map[string]manifest.ModuleDef{
			"demo/Counter": {Name: "demo/Counter", WasmHash: (codec.Hash{}).String(), EffectsEmitted: []string{"http.request"}},
		},
		Plans: map[string]manifest.PlanDef{
			"demo.linear": linearPlanDef(),
		},
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
}

func linearPlanDef() manifest.PlanDef {
	return manifest.PlanDef{
		Name: "demo.linear",
		Steps: []manifest.PlanStepDef{
			{Name: "emit", Kind: string(plan.StepEmitEffect), Params: map[string]any{
				"kind": "http.request", "cap": "http-grant", "bind": "h1",
				"params_expr": `{"url": "https://example.test"}`,
			}},
			{Name: "wait", Kind: string(plan.StepAwaitReceipt), Params: map[string]any{"handle": "h1"}, Deps: []manifest.PlanEdgeDef{{From: "emit"}}},
			{Name: "done", Kind: string(plan.StepEnd), Deps: []manifest.PlanEdgeDef{{From: "wait"}}},
		},
	}
}

func testKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	ctx := context.Background()
	lm := testManifest()
	cas := store.NewMemCAS()
	runner, err := sandbox.NewRunner(ctx, cas, sandbox.Config{})
	require.NoError(t, err)
	k, err := kernel.NewKernel(lm, runner, fakeSecretSource{}, journal.NewLog())
	require.NoError(t, err)
	return k
}

func mustEncodeKey(t *testing.T, v any) []byte {
	t.Helper()
	b, err := codec.Encode(v)
	require.NoError(t, err)
	return b
}

func TestDispatchEventFaultsWorkflowOnMissingWasm(t *testing.T) {
	k := testKernel(t)
	k.EnqueueEvent("counter.incr", map[string]any{"id": "c1"}, 100)

	err := k.Step(context.Background())
	require.Error(t, err)

	inst, ok := k.QueryWorkflow("demo/Counter", mustEncodeKey(t, "c1"))
	require.True(t, ok)
	require.Equal(t, workflow.StatusFailed, inst.Status)
}

func TestTriggerSpawnsPlanAndQuiescenceClears(t *testing.T) {
	k := testKernel(t)
	ctx := context.Background()

	quiet, err := k.Quiescent(ctx)
	require.NoError(t, err)
	require.True(t, quiet)

	k.EnqueueEvent("order.created", map[string]any{"order_id": "o1"}, 100)
	require.NoError(t, k.Step(ctx))

	plans := k.PlanInstances()
	require.Len(t, plans, 1)
	inst := plans[0]
	require.Equal(t, plan.StatusWaitingReceipt, inst.StepStates["wait"])
	require.Equal(t, plan.OutcomeRunning, inst.Outcome)

	quiet, err = k.Quiescent(ctx)
	require.NoError(t, err)
	require.False(t, quiet, "a running plan with a pending effect must block quiescence")

	handle := inst.Steps["emit"].(string)
	intentHashStr := inst.EffectHandles[handle]
	intentHash, err := codec.ParseHash(intentHashStr)
	require.NoError(t, err)

	k.EnqueueReceipt(effect.Receipt{IntentHash: intentHash, Status: effect.StatusOk}, 101)
	require.NoError(t, k.Step(ctx))

	inst2, ok := k.QueryPlan(inst.ID)
	require.True(t, ok)
	require.Equal(t, plan.OutcomeEnded, inst2.Outcome)

	quiet, err = k.Quiescent(ctx)
	require.NoError(t, err)
	require.True(t, quiet)
}

func TestPendingReflectsQueueDepth(t *testing.T) {
	k := testKernel(t)
	require.Equal(t, 0, k.Pending())
	k.EnqueueEvent("counter.incr", map[string]any{"id": "c2"}, 1)
	k.EnqueueEvent("counter.incr", map[string]any{"id": "c3"}, 2)
	require.Equal(t, 2, k.Pending())

	require.Error(t, k.Step(context.Background()))
	require.Equal(t, 1, k.Pending())
}

func TestStepReturnsErrEmptyOnIdleQueue(t *testing.T) {
	k := testKernel(t)
	err := k.Step(context.Background())
	require.ErrorIs(t, err, kernel.ErrEmpty)
}

func TestSnapshotAndRestoreRoundTripsPlanState(t *testing.T) {
	k := testKernel(t)
	ctx := context.Background()

	cas := store.NewMemCAS()
	snapshots := journal.NewSnapshotStore(cas)

	k.EnqueueEvent("order.created", map[string]any{"order_id": "o2"}, 100)
	require.NoError(t, k.Step(ctx))

	before := k.PlanInstances()
	require.Len(t, before, 1)

	_, err := k.Snapshot(ctx, snapshots)
	require.NoError(t, err)

	atSeq := k.Journal().Len()
	k2 := testKernel(t)
	restoredSeq, err := k2.Restore(ctx, snapshots, atSeq)
	require.NoError(t, err)
	require.Equal(t, atSeq, restoredSeq)

	after := k2.PlanInstances()
	require.Len(t, after, 1)
	require.Equal(t, before[0].ID, after[0].ID)
	require.Equal(t, before[0].Outcome, after[0].Outcome)
}
