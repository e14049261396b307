package trace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/effect"
	"github.com/aoscore/aos/pkg/journal"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/plan"
	"github.com/aoscore/aos/pkg/trace"
	"github.com/aoscore/aos/pkg/workflow"
)

func TestClassifyWorkflowStates(t *testing.T) {
	idle := workflow.NewInstance("demo/Counter", []byte("k1"))
	require.Equal(t, trace.StateUnknown, trace.ClassifyWorkflow(idle).State)
	require.Equal(t, trace.CauseNotYetStarted, trace.ClassifyWorkflow(idle).Cause)

	waiting := workflow.NewInstance("demo/Counter", []byte("k2"))
	waiting.Status = workflow.StatusWaiting
	waiting.InflightHandles["effect-0"] = codec.Hash{}
	c := trace.ClassifyWorkflow(waiting)
	require.Equal(t, trace.StateWaitingReceipt, c.State)
	require.Equal(t, trace.CauseAwaitingAdapter, c.Cause)

	waitingNoHandles := workflow.NewInstance("demo/Counter", []byte("k3"))
	waitingNoHandles.Status = workflow.StatusWaiting
	require.Equal(t, trace.StateUnknown, trace.ClassifyWorkflow(waitingNoHandles).State)

	failed := workflow.NewInstance("demo/Counter", []byte("k4"))
	failed.Status = workflow.StatusFailed
	failed.LastFault = "boom"
	c = trace.ClassifyWorkflow(failed)
	require.Equal(t, trace.StateFailed, c.State)
	require.Equal(t, "boom", c.Detail)

	completed := workflow.NewInstance("demo/Counter", []byte("k5"))
	completed.Status = workflow.StatusCompleted
	require.Equal(t, trace.StateCompleted, trace.ClassifyWorkflow(completed).State)
}

func linearPlanDef() manifest.PlanDef {
	return manifest.PlanDef{
		Name: "demo.Linear",
		Steps: []manifest.PlanStepDef{
			{Name: "emit", Kind: "EmitEffect"},
			{Name: "wait", Kind: "AwaitReceipt", Deps: []manifest.PlanEdgeDef{{From: "emit"}}},
			{Name: "done", Kind: "End", Deps: []manifest.PlanEdgeDef{{From: "wait"}}},
		},
	}
}

func TestClassifyPlanWaitingReceipt(t *testing.T) {
	def := linearPlanDef()
	inst := plan.NewInstance("demo.Linear", "p1", def, nil, nil)
	inst.StepStates["emit"] = plan.StatusCompleted
	inst.StepStates["wait"] = plan.StatusWaitingReceipt

	c, ws := trace.ClassifyPlan(inst)
	require.Equal(t, trace.StateWaitingReceipt, c.State)
	require.Equal(t, []string{"wait"}, ws.Receipts)
}

func TestClassifyPlanCompletedAndFailed(t *testing.T) {
	def := linearPlanDef()

	ended := plan.NewInstance("demo.Linear", "p2", def, nil, nil)
	ended.Outcome = plan.OutcomeEnded
	c, _ := trace.ClassifyPlan(ended)
	require.Equal(t, trace.StateCompleted, c.State)

	errored := plan.NewInstance("demo.Linear", "p3", def, nil, nil)
	errored.Outcome = plan.OutcomeError
	errored.ErrorCode = "guard_error"
	c, _ = trace.ClassifyPlan(errored)
	require.Equal(t, trace.StateFailed, c.State)
	require.Equal(t, "guard_error", c.Detail)
}

func TestBuildLiveWaitSetGroupsLabels(t *testing.T) {
	wfWaiting := workflow.NewInstance("demo/Counter", []byte("k1"))
	wfWaiting.Status = workflow.StatusWaiting
	wfWaiting.InflightHandles["effect-0"] = codec.Hash{}

	wfFailed := workflow.NewInstance("demo/Counter", []byte("k2"))
	wfFailed.Status = workflow.StatusFailed

	def := linearPlanDef()
	planWaiting := plan.NewInstance("demo.Linear", "p1", def, nil, nil)
	planWaiting.StepStates["wait"] = plan.StatusWaitingReceipt

	lw := trace.BuildLiveWaitSet(
		[]*workflow.Instance{wfWaiting, wfFailed},
		[]*plan.Instance{planWaiting},
	)

	require.Contains(t, lw.WaitingReceipt, "workflow:demo/Counter/6b31")
	require.Contains(t, lw.WaitingReceipt, "plan:demo.Linear/p1#wait")
	require.Contains(t, lw.Failed, "workflow:demo/Counter/6b32")
}

func intentRecord(t *testing.T, origin effect.Origin, idemByte byte) effect.Intent {
	t.Helper()
	intent := effect.Intent{
		Kind:           "http.request",
		CapName:        "http",
		ParamsCBOR:     []byte{},
		IdempotencyKey: [32]byte{idemByte},
		Origin:         origin,
	}
	h, err := codec.HashValue(struct {
		Kind           string
		CapName        string
		Params         []byte
		IdempotencyKey [32]byte
		Origin         effect.Origin
	}{intent.Kind, intent.CapName, intent.ParamsCBOR, intent.IdempotencyKey, intent.Origin})
	require.NoError(t, err)
	intent.IntentHash = h
	return intent
}

func TestWindowForWorkflowCollectsIntentAndReceipt(t *testing.T) {
	log := journal.NewLog()
	ctx := context.Background()

	origin := effect.Origin{Kind: effect.OriginWorkflow, Module: "demo/Counter", InstanceKey: []byte("k1")}
	intent := intentRecord(t, origin, 0x01)
	_, err := log.Append(ctx, "EffectIntent", intent)
	require.NoError(t, err)

	otherOrigin := effect.Origin{Kind: effect.OriginWorkflow, Module: "demo/Counter", InstanceKey: []byte("other")}
	otherIntent := intentRecord(t, otherOrigin, 0x02)
	_, err = log.Append(ctx, "EffectIntent", otherIntent)
	require.NoError(t, err)

	receipt := effect.Receipt{IntentHash: intent.IntentHash, Status: effect.StatusOk}
	_, err = log.Append(ctx, "EffectReceipt", receipt)
	require.NoError(t, err)

	win, err := trace.ForWorkflow(log, "demo/Counter", []byte("k1"))
	require.NoError(t, err)
	require.Len(t, win.Entries, 2)
	require.NotNil(t, win.Entries[0].Intent)
	require.NotNil(t, win.Entries[1].Receipt)
	require.NoError(t, win.Verify())
}

func TestWindowVerifyDetectsReceiptBeforeIntent(t *testing.T) {
	win := trace.Window{
		Entries: []trace.Entry{
			{Seq: 0, Kind: "EffectReceipt", Receipt: &effect.Receipt{IntentHash: codec.Hash{0x9}}},
		},
	}
	require.Error(t, win.Verify())
}

func TestWindowForPlanFiltersByPlanID(t *testing.T) {
	log := journal.NewLog()
	ctx := context.Background()

	origin := effect.Origin{Kind: effect.OriginPlan, PlanName: "demo.Linear", PlanID: "p1"}
	intent := intentRecord(t, origin, 0x03)
	_, err := log.Append(ctx, "EffectIntent", intent)
	require.NoError(t, err)

	win, err := trace.ForPlan(log, "demo.Linear", "p1")
	require.NoError(t, err)
	require.Len(t, win.Entries, 1)

	miss, err := trace.ForPlan(log, "demo.Linear", "p2")
	require.NoError(t, err)
	require.Empty(t, miss.Entries)
}
