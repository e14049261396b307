// Package workflow implements the per-(module, key) reducer state
// machine: each instance holds opaque reducer state, the set of effect
// intents it is waiting on, and a fault pipeline for reducer
// panics/errors.
//
// State is mutated only through one serialized entry point, with stable
// sorting and no hidden nondeterminism. Each instance moves through its
// own Idle/Waiting/Completed/Failed states.
package workflow

import (
	"context"
	"fmt"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/effect"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/sandbox"
)

// Status is an instance's lifecycle state.
type Status string

const (
	StatusIdle      Status = "Idle"
	StatusWaiting   Status = "Waiting"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Instance is one module/key pair's durable reducer state.
type Instance struct {
	Module string
	Key    []byte
	State  []byte // opaque CBOR, owned entirely by the module's reducer
	Status Status

	// InflightHandles maps a locally-minted handle to the intent hash the
	// effect manager assigned it, so a later receipt can be matched back
	// to this instance without the reducer tracking intent hashes itself.
	InflightHandles map[string]codec.Hash

	FailCount int
	LastFault string
}

// NewInstance creates a fresh Idle instance with zero reducer state.
func NewInstance(module string, key []byte) *Instance {
	return &Instance{
		Module:          module,
		Key:             key,
		Status:          StatusIdle,
		InflightHandles: make(map[string]codec.Hash),
	}
}

// Engine drives instances through the sandboxed reducer and wires
// emitted effect requests into the effect manager.
type Engine struct {
	lm      *manifest.LoadedManifest
	runner  *sandbox.Runner
	effects *effect.Manager
}

// NewEngine builds a workflow Engine bound to the manifest, the wasm
// sandbox reducers run in, and the effect manager their EmitEffect
// requests are enqueued through.
func NewEngine(lm *manifest.LoadedManifest, runner *sandbox.Runner, effects *effect.Manager) *Engine {
	return &Engine{lm: lm, runner: runner, effects: effects}
}

// HandleEvent invokes inst's module reducer with ev as input. On
// success the instance's new state is stored and the effects the
// reducer emitted are enqueued; on reducer fault the two-attempt pipeline in spec §4.3
// engages: the first fault reenters the reducer with a synthesized
// "module.rejected" event so the module gets a chance to fail
// gracefully, a second consecutive fault drains any pending effects and
// moves the instance to Failed without further reentry.
func (e *Engine) HandleEvent(ctx context.Context, inst *Instance, eventSchema string, eventValue any, nowCtx sandbox.ReducerContext) error {
	mod, ok := e.lm.Modules[inst.Module]
	if !ok {
		return fmt.Errorf("workflow: unknown module %q", inst.Module)
	}

	eventBytes, err := codec.Encode(map[string]any{"schema": eventSchema, "value": eventValue})
	if err != nil {
		return fmt.Errorf("workflow: encode event: %w", err)
	}

	out, rerr := e.runner.RunReducer(ctx, mustHash(mod.WasmHash), sandbox.ReducerInput{
		Event:   eventBytes,
		State:   inst.State,
		Context: nowCtx,
	})
	if rerr != nil {
		return e.fault(ctx, inst, rerr)
	}

	inst.State = out.NewState
	inst.FailCount = 0
	inst.LastFault = ""

	if len(out.Effects) == 0 {
		if len(inst.InflightHandles) == 0 {
			inst.Status = StatusCompleted
		} else {
			inst.Status = StatusWaiting
		}
		return nil
	}

	inst.Status = StatusWaiting
	for i, req := range out.Effects {
		params, _ := decodeParamsTree(req.Params)
		var idem [32]byte
		intent, ierr := e.effects.EnqueueWorkflowEffect(ctx, inst.Module, inst.Key, req.Kind, req.Cap, params, idem)
		if ierr != nil {
			return e.fault(ctx, inst, ierr)
		}
		inst.InflightHandles[fmt.Sprintf("effect-%d", i)] = intent.IntentHash
	}
	return nil
}

// HandleReceipt reenters the reducer with a "receipt delivered" event
// once the handle it was waiting on settles, and retires the handle
// from InflightHandles.
func (e *Engine) HandleReceipt(ctx context.Context, inst *Instance, handle string, receipt effect.Receipt, nowCtx sandbox.ReducerContext) error {
	if _, ok := inst.InflightHandles[handle]; !ok {
		return fmt.Errorf("workflow: instance not waiting on handle %q", handle)
	}
	delete(inst.InflightHandles, handle)

	payload, err := decodeParamsTree(receipt.PayloadCBOR)
	if err != nil {
		return fmt.Errorf("workflow: decode receipt payload: %w", err)
	}

	return e.HandleEvent(ctx, inst, "effect.receipt", payload, nowCtx)
}

// fault implements the two-attempt reducer fault pipeline.
func (e *Engine) fault(ctx context.Context, inst *Instance, cause error) error {
	inst.FailCount++
	inst.LastFault = cause.Error()

	if inst.FailCount == 1 {
		rejected, err := codec.Encode(map[string]any{"schema": "module.rejected", "value": map[string]any{"reason": cause.Error()}})
		if err != nil {
			inst.Status = StatusFailed
			return fmt.Errorf("workflow: encode rejection event: %w", err)
		}
		mod := e.lm.Modules[inst.Module]
		out, rerr := e.runner.RunReducer(ctx, mustHash(mod.WasmHash), sandbox.ReducerInput{
			Event: rejected,
			State: inst.State,
		})
		if rerr == nil {
			inst.State = out.NewState
			inst.Status = StatusCompleted
			return nil
		}
		inst.LastFault = rerr.Error()
	}

	inst.InflightHandles = make(map[string]codec.Hash)
	inst.Status = StatusFailed
	return fmt.Errorf("workflow: instance %s/%x failed: %w", inst.Module, inst.Key, cause)
}

func decodeParamsTree(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	var v map[string]any
	if err := codec.Decode(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func mustHash(s string) codec.Hash {
	h, err := codec.ParseHash(s)
	if err != nil {
		return codec.Hash{}
	}
	return h
}
