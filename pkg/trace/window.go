// Package trace reconstructs why the kernel is in its current state:
// the causal window of intents/receipts behind one instance, the live
// set of everything still blocked, and a terminal-state classification
// for any workflow or plan instance.
//
// The causal window collects every intent/receipt record touching one
// origin; Window.Verify checks it for duplicate intent hashes and for
// receipts that precede their intent. Record prev-hashes and per-record
// hashes are copied into each Entry but not verified here. The live wait
// set is a point-in-time
// summary of what has not finished yet, distinct from a finished,
// signed evidence bundle.
package trace

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/effect"
	"github.com/aoscore/aos/pkg/journal"
	"github.com/aoscore/aos/pkg/plan"
	"github.com/aoscore/aos/pkg/workflow"
)

// State is the high-level bucket a traced instance falls into.
type State string

const (
	StateCompleted      State = "completed"
	StateWaitingReceipt State = "waiting_receipt"
	StateWaitingEvent   State = "waiting_event"
	StateWaitingPlan    State = "waiting_plan"
	StateFailed         State = "failed"
	StateUnknown        State = "unknown"
)

// Cause names, where known, why an instance is in its current State.
type Cause string

const (
	CauseNone                  Cause = ""
	CauseAwaitingAdapter       Cause = "awaiting_adapter_receipt"
	CauseAwaitingExternalEvent Cause = "awaiting_external_event"
	CauseAwaitingChildPlan     Cause = "awaiting_child_plan"
	CauseFaultExhausted        Cause = "fault_pipeline_exhausted"
	CauseNotYetStarted         Cause = "no_event_processed_yet"
)

// Classification is the result of classifying one instance.
type Classification struct {
	State  State
	Cause  Cause
	Detail string
}

// ClassifyWorkflow maps a workflow instance's Status onto the
// completed/waiting_receipt/failed/unknown taxonomy.
func ClassifyWorkflow(inst *workflow.Instance) Classification {
	switch inst.Status {
	case workflow.StatusCompleted:
		return Classification{State: StateCompleted}
	case workflow.StatusFailed:
		return Classification{State: StateFailed, Cause: CauseFaultExhausted, Detail: inst.LastFault}
	case workflow.StatusWaiting:
		if len(inst.InflightHandles) == 0 {
			return Classification{State: StateUnknown, Detail: "waiting status but no inflight handles recorded"}
		}
		return Classification{
			State:  StateWaitingReceipt,
			Cause:  CauseAwaitingAdapter,
			Detail: fmt.Sprintf("%d effect(s) inflight", len(inst.InflightHandles)),
		}
	case workflow.StatusIdle:
		return Classification{State: StateUnknown, Cause: CauseNotYetStarted}
	default:
		return Classification{State: StateUnknown, Detail: fmt.Sprintf("unrecognized status %q", inst.Status)}
	}
}

// PlanWaitSet names, by step name, what a Running plan instance is
// currently blocked on. A single tick can leave a plan waiting on more
// than one kind at once (independent DAG branches), so this is not a
// single Cause.
type PlanWaitSet struct {
	Receipts []string
	Events   []string
	Plans    []string
}

// ClassifyPlan maps a plan instance's Outcome and per-step States onto
// the same taxonomy ClassifyWorkflow uses, plus the step-level detail
// needed to say what it's waiting on.
func ClassifyPlan(inst *plan.Instance) (Classification, PlanWaitSet) {
	switch inst.Outcome {
	case plan.OutcomeEnded:
		return Classification{State: StateCompleted}, PlanWaitSet{}
	case plan.OutcomeError:
		return Classification{State: StateFailed, Cause: CauseFaultExhausted, Detail: inst.ErrorCode}, PlanWaitSet{}
	}

	var ws PlanWaitSet
	names := make([]string, 0, len(inst.StepStates))
	for name := range inst.StepStates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch inst.StepStates[name] {
		case plan.StatusWaitingReceipt:
			ws.Receipts = append(ws.Receipts, name)
		case plan.StatusWaitingEvent:
			ws.Events = append(ws.Events, name)
		case plan.StatusWaitingPlan:
			ws.Plans = append(ws.Plans, name)
		}
	}

	switch {
	case len(ws.Receipts) > 0:
		return Classification{State: StateWaitingReceipt, Cause: CauseAwaitingAdapter, Detail: fmt.Sprintf("%d step(s)", len(ws.Receipts))}, ws
	case len(ws.Events) > 0:
		return Classification{State: StateWaitingEvent, Cause: CauseAwaitingExternalEvent, Detail: fmt.Sprintf("%d step(s)", len(ws.Events))}, ws
	case len(ws.Plans) > 0:
		return Classification{State: StateWaitingPlan, Cause: CauseAwaitingChildPlan, Detail: fmt.Sprintf("%d step(s)", len(ws.Plans))}, ws
	default:
		return Classification{State: StateUnknown, Detail: "running outcome with no outstanding step"}, ws
	}
}

// Entry is one journal record decoded into window-relevant form. Only
// one of Intent/Receipt is set.
type Entry struct {
	Seq      uint64
	Kind     string
	Hash     codec.Hash
	PrevHash codec.Hash
	Intent   *effect.Intent
	Receipt  *effect.Receipt
}

// Window is the causal history of effect intents/receipts relevant to
// one workflow or plan instance.
type Window struct {
	Entries []Entry
}

// ForWorkflow reconstructs the window for a (module, key) workflow
// instance by scanning the full journal.
func ForWorkflow(log *journal.Log, module string, key []byte) (Window, error) {
	return scan(log, func(o effect.Origin) bool {
		return o.Kind == effect.OriginWorkflow && o.Module == module && bytes.Equal(o.InstanceKey, key)
	})
}

// ForPlan reconstructs the window for one plan instance by scanning the
// full journal.
func ForPlan(log *journal.Log, planName, planID string) (Window, error) {
	return scan(log, func(o effect.Origin) bool {
		return o.Kind == effect.OriginPlan && o.PlanName == planName && o.PlanID == planID
	})
}

func scan(log *journal.Log, match func(effect.Origin) bool) (Window, error) {
	recs, err := log.Scan(0, log.Len())
	if err != nil {
		return Window{}, fmt.Errorf("trace: scan journal: %w", err)
	}

	var entries []Entry
	known := make(map[codec.Hash]bool)
	for _, r := range recs {
		switch r.Kind {
		case "EffectIntent":
			var intent effect.Intent
			if err := codec.Decode(r.PayloadCBOR, &intent); err != nil {
				return Window{}, fmt.Errorf("trace: decode EffectIntent at seq %d: %w", r.Seq, err)
			}
			if !match(intent.Origin) {
				continue
			}
			known[intent.IntentHash] = true
			entries = append(entries, Entry{Seq: r.Seq, Kind: r.Kind, Hash: r.Hash, PrevHash: r.PrevHash, Intent: &intent})
		case "EffectReceipt":
			var receipt effect.Receipt
			if err := codec.Decode(r.PayloadCBOR, &receipt); err != nil {
				return Window{}, fmt.Errorf("trace: decode EffectReceipt at seq %d: %w", r.Seq, err)
			}
			if !known[receipt.IntentHash] {
				continue // not in this window's origin, or not seen yet
			}
			entries = append(entries, Entry{Seq: r.Seq, Kind: r.Kind, Hash: r.Hash, PrevHash: r.PrevHash, Receipt: &receipt})
		}
	}
	return Window{Entries: entries}, nil
}

// Verify checks the window's internal causal consistency: no intent hash
// may recur, and
// no receipt may precede the intent it settles.
func (w Window) Verify() error {
	seen := make(map[codec.Hash]bool)
	for _, e := range w.Entries {
		if e.Intent != nil {
			if seen[e.Intent.IntentHash] {
				return fmt.Errorf("trace: duplicate intent hash %s at seq %d", e.Intent.IntentHash, e.Seq)
			}
			seen[e.Intent.IntentHash] = true
		}
		if e.Receipt != nil {
			if !seen[e.Receipt.IntentHash] {
				return fmt.Errorf("trace: receipt for intent hash %s at seq %d precedes its intent", e.Receipt.IntentHash, e.Seq)
			}
		}
	}
	return nil
}

// LiveWaitSet is a point-in-time summary of every instance currently
// blocked, grouped by what it is waiting on.
type LiveWaitSet struct {
	WaitingReceipt []string
	WaitingEvent   []string
	WaitingPlan    []string
	Failed         []string
}

// BuildLiveWaitSet classifies every given workflow and plan instance and
// groups their labels accordingly. Labels are deterministic strings
// ("workflow:<module>/<hex key>" or "plan:<name>/<id>[#<step>]") so the
// result is reproducible across identical kernel states.
func BuildLiveWaitSet(workflows []*workflow.Instance, plans []*plan.Instance) LiveWaitSet {
	var lw LiveWaitSet

	for _, inst := range workflows {
		label := fmt.Sprintf("workflow:%s/%x", inst.Module, inst.Key)
		c := ClassifyWorkflow(inst)
		switch c.State {
		case StateWaitingReceipt:
			lw.WaitingReceipt = append(lw.WaitingReceipt, label)
		case StateFailed:
			lw.Failed = append(lw.Failed, label)
		}
	}

	for _, inst := range plans {
		label := fmt.Sprintf("plan:%s/%s", inst.PlanName, inst.ID)
		c, ws := ClassifyPlan(inst)
		switch c.State {
		case StateWaitingReceipt:
			for _, s := range ws.Receipts {
				lw.WaitingReceipt = append(lw.WaitingReceipt, label+"#"+s)
			}
		case StateWaitingEvent:
			for _, s := range ws.Events {
				lw.WaitingEvent = append(lw.WaitingEvent, label+"#"+s)
			}
		case StateWaitingPlan:
			for _, s := range ws.Plans {
				lw.WaitingPlan = append(lw.WaitingPlan, label+"#"+s)
			}
		case StateFailed:
			lw.Failed = append(lw.Failed, label)
		}
	}

	sort.Strings(lw.WaitingReceipt)
	sort.Strings(lw.WaitingEvent)
	sort.Strings(lw.WaitingPlan)
	sort.Strings(lw.Failed)
	return lw
}
