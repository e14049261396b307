// Package plan implements the plan engine: a DAG of typed steps with
// edges guarded by boolean expressions over the plan's environment,
// advanced one tick at a time.
//
// A tick has no wall-clock scheduling, only structural readiness: ready
// steps execute in declaration order, with EmitEffect steps first.
package plan

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/aoscore/aos/pkg/effect"
	"github.com/aoscore/aos/pkg/manifest"
)

// StepKind discriminates the nine step shapes spec §4.5 defines.
type StepKind string

const (
	StepEmitEffect    StepKind = "EmitEffect"
	StepAwaitReceipt  StepKind = "AwaitReceipt"
	StepAwaitEvent    StepKind = "AwaitEvent"
	StepSpawnPlan     StepKind = "SpawnPlan"
	StepSpawnForEach  StepKind = "SpawnForEach"
	StepAwaitPlan     StepKind = "AwaitPlan"
	StepAwaitPlansAll StepKind = "AwaitPlansAll"
	StepRaiseEvent    StepKind = "RaiseEvent"
	StepEnd           StepKind = "End"
)

// Status is a step's tick-to-tick runtime state.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusWaitingReceipt  Status = "WaitingReceipt"
	StatusWaitingEvent    Status = "WaitingEvent"
	StatusWaitingPlan     Status = "WaitingPlan"
	StatusCompleted       Status = "Completed"
	StatusSkipped         Status = "Skipped"
)

// Outcome is how a plan instance ended.
type Outcome string

const (
	OutcomeRunning Outcome = "Running"
	OutcomeEnded   Outcome = "Ended"
	OutcomeError   Outcome = "Error"
)

// Instance is the runtime state of one plan execution (spec §3 "Plan
// instance").
type Instance struct {
	PlanName      string
	ID            string
	Def           manifest.PlanDef
	CorrelationID []byte

	Input any
	Vars  map[string]any
	Steps map[string]any // completed step values, keyed by step name

	StepStates   map[string]Status
	EffectHandles map[string]string // handle -> pending intent hash (as string)
	ReceiptWaits  map[string]string // handle -> waiting step name
	EventWaits    map[string]string // step name -> event schema it awaits
	PlanWaits     map[string][]string // step name -> child plan ids awaited

	CurrentEvent any
	Outcome      Outcome
	ErrorCode    string
}

// NewInstance creates a fresh plan instance in the Pending state for
// every step, seeded with input and an optional correlation id carried
// from the trigger that spawned it.
func NewInstance(planName, id string, def manifest.PlanDef, input any, correlationID []byte) *Instance {
	states := make(map[string]Status, len(def.Steps))
	for _, s := range def.Steps {
		states[s.Name] = StatusPending
	}
	return &Instance{
		PlanName:      planName,
		ID:            id,
		Def:           def,
		CorrelationID: correlationID,
		Input:         input,
		Vars:          make(map[string]any),
		Steps:         make(map[string]any),
		StepStates:    states,
		EffectHandles: make(map[string]string),
		ReceiptWaits:  make(map[string]string),
		EventWaits:    make(map[string]string),
		PlanWaits:     make(map[string][]string),
		Outcome:       OutcomeRunning,
	}
}

func (inst *Instance) env() map[string]any {
	return map[string]any{
		"plan_input":    inst.Input,
		"vars":          inst.Vars,
		"steps":         inst.Steps,
		"current_event": inst.CurrentEvent,
	}
}

// Spawner lets a plan instance spawn child plans without the plan
// package depending on the kernel that owns the plan registry.
type Spawner interface {
	Spawn(ctx context.Context, childPlan string, input any) (planID string, err error)
}

// Engine advances plan instances one tick at a time, evaluating guard
// and binding expressions with a cached CEL environment over `env`.
type Engine struct {
	env  *cel.Env
	mgr  *effect.Manager
	spawn Spawner

	prog map[string]cel.Program
}

// NewEngine builds an Engine bound to the effect manager intents are
// emitted through and the spawner used for SpawnPlan. SpawnForEach
// steps are not executed: Tick fails them as an unknown step kind.
func NewEngine(mgr *effect.Manager, spawn Spawner) (*Engine, error) {
	env, err := cel.NewEnv(cel.Variable("env", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("plan: build CEL env: %w", err)
	}
	return &Engine{env: env, mgr: mgr, spawn: spawn, prog: make(map[string]cel.Program)}, nil
}

func (e *Engine) eval(expr string, inst *Instance) (any, error) {
	if expr == "" {
		return nil, nil
	}
	prg, ok := e.prog[expr]
	if !ok {
		ast, issues := e.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("plan: compile %q: %w", expr, issues.Err())
		}
		p, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("plan: build program %q: %w", expr, err)
		}
		e.prog[expr] = p
		prg = p
	}
	out, _, err := prg.Eval(map[string]any{"env": inst.env()})
	if err != nil {
		return nil, fmt.Errorf("plan: eval %q: %w", expr, err)
	}
	return out.Value(), nil
}

func (e *Engine) evalBool(expr string, inst *Instance) (bool, error) {
	if expr == "" {
		return true, nil
	}
	v, err := e.eval(expr, inst)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("plan: guard %q did not evaluate to bool", expr)
	}
	return b, nil
}

// ready reports whether step is structurally ready to execute this
// tick: every predecessor is Completed or Skipped. It also returns
// whether the step should instead be Skipped (no guarded edge enabled
// it — xor semantics).
func (e *Engine) ready(inst *Instance, step manifest.PlanStepDef) (isReady, shouldSkip bool, err error) {
	if len(step.Deps) == 0 {
		return true, false, nil
	}
	anyGuardTrue := false
	hasGuard := false
	for _, dep := range step.Deps {
		depState, ok := inst.StepStates[dep.From]
		if !ok || (depState != StatusCompleted && depState != StatusSkipped) {
			return false, false, nil
		}
		if dep.Guard == "" {
			anyGuardTrue = true
			continue
		}
		hasGuard = true
		if depState == StatusSkipped {
			continue
		}
		ok, err := e.evalBool(dep.Guard, inst)
		if err != nil {
			return false, false, err
		}
		if ok {
			anyGuardTrue = true
		}
	}
	if hasGuard && !anyGuardTrue {
		return true, true, nil
	}
	return true, false, nil
}

// Tick executes every currently-ready step once: EmitEffect steps first
// (in declaration order) so AwaitReceipt steps in the same tick can
// register their wait immediately afterward, then all other ready
// steps in declaration order.
func (e *Engine) Tick(ctx context.Context, inst *Instance) error {
	if inst.Outcome != OutcomeRunning {
		return nil
	}

	ordered := orderedSteps(inst.Def.Steps)
	var readySteps []manifest.PlanStepDef
	for _, s := range ordered {
		if inst.StepStates[s.Name] != StatusPending {
			continue
		}
		isReady, shouldSkip, err := e.ready(inst, s)
		if err != nil {
			return e.fail(inst, "invariant_violation", err)
		}
		if !isReady {
			continue
		}
		if shouldSkip {
			inst.StepStates[s.Name] = StatusSkipped
			continue
		}
		readySteps = append(readySteps, s)
	}

	sort.SliceStable(readySteps, func(i, j int) bool {
		iEmit := readySteps[i].Kind == string(StepEmitEffect)
		jEmit := readySteps[j].Kind == string(StepEmitEffect)
		if iEmit != jEmit {
			return iEmit
		}
		return false
	})

	for _, s := range readySteps {
		if err := e.execute(ctx, inst, s); err != nil {
			return e.fail(inst, "invariant_violation", err)
		}
	}

	if e.allTerminal(inst) && inst.Outcome == OutcomeRunning {
		inst.Outcome = OutcomeEnded
	}
	return nil
}

func orderedSteps(steps []manifest.PlanStepDef) []manifest.PlanStepDef {
	out := make([]manifest.PlanStepDef, len(steps))
	copy(out, steps)
	return out
}

func (e *Engine) allTerminal(inst *Instance) bool {
	for _, st := range inst.StepStates {
		if st != StatusCompleted && st != StatusSkipped {
			return false
		}
	}
	return true
}

func (e *Engine) fail(inst *Instance, code string, cause error) error {
	inst.Outcome = OutcomeError
	inst.ErrorCode = code
	return fmt.Errorf("plan %s/%s: %s: %w", inst.PlanName, inst.ID, code, cause)
}

func (e *Engine) execute(ctx context.Context, inst *Instance, step manifest.PlanStepDef) error {
	switch StepKind(step.Kind) {
	case StepEmitEffect:
		return e.execEmitEffect(ctx, inst, step)
	case StepAwaitReceipt:
		return e.execAwaitReceipt(inst, step)
	case StepAwaitEvent:
		return e.execAwaitEvent(inst, step)
	case StepRaiseEvent:
		return e.execRaiseEvent(inst, step)
	case StepSpawnPlan:
		return e.execSpawnPlan(ctx, inst, step)
	case StepAwaitPlan:
		return e.execAwaitPlan(inst, step)
	case StepAwaitPlansAll:
		return e.execAwaitPlansAll(inst, step)
	case StepEnd:
		return e.execEnd(inst, step)
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func (e *Engine) execEmitEffect(ctx context.Context, inst *Instance, step manifest.PlanStepDef) error {
	kind := stringParam(step.Params, "kind")
	cap := stringParam(step.Params, "cap")
	handle := stringParam(step.Params, "bind")
	expr := stringParam(step.Params, "params_expr")

	paramsVal, err := e.eval(expr, inst)
	if err != nil {
		return err
	}
	paramsMap, _ := paramsVal.(map[string]any)

	var idem [32]byte
	intent, err := e.mgr.EnqueuePlanEffect(ctx, inst.PlanName, inst.ID, kind, cap, paramsMap, idem)
	if err != nil {
		return err
	}

	if handle != "" {
		inst.EffectHandles[handle] = intent.IntentHash.String()
	}
	inst.Steps[step.Name] = handle
	inst.StepStates[step.Name] = StatusCompleted
	return nil
}

func (e *Engine) execAwaitReceipt(inst *Instance, step manifest.PlanStepDef) error {
	handle := stringParam(step.Params, "handle")
	if _, ok := inst.EffectHandles[handle]; !ok {
		return fmt.Errorf("await_receipt: unknown handle %q", handle)
	}
	inst.ReceiptWaits[handle] = step.Name
	inst.StepStates[step.Name] = StatusWaitingReceipt
	return nil
}

func (e *Engine) execAwaitEvent(inst *Instance, step manifest.PlanStepDef) error {
	schema := stringParam(step.Params, "schema")
	inst.EventWaits[step.Name] = schema
	inst.StepStates[step.Name] = StatusWaitingEvent
	return nil
}

func (e *Engine) execRaiseEvent(inst *Instance, step manifest.PlanStepDef) error {
	expr := stringParam(step.Params, "event_expr")
	val, err := e.eval(expr, inst)
	if err != nil {
		return err
	}
	inst.Steps[step.Name] = val
	inst.StepStates[step.Name] = StatusCompleted
	return nil
}

func (e *Engine) execSpawnPlan(ctx context.Context, inst *Instance, step manifest.PlanStepDef) error {
	child := stringParam(step.Params, "child")
	inputExpr := stringParam(step.Params, "input_expr")
	input, err := e.eval(inputExpr, inst)
	if err != nil {
		return err
	}
	if e.spawn == nil {
		return fmt.Errorf("spawn_plan: no spawner configured")
	}
	planID, err := e.spawn.Spawn(ctx, child, input)
	if err != nil {
		return err
	}
	handle := stringParam(step.Params, "bind")
	if handle == "" {
		handle = step.Name
	}
	inst.PlanWaits[step.Name] = []string{planID}
	inst.Steps[step.Name] = planID
	inst.StepStates[step.Name] = StatusWaitingPlan
	return nil
}

func (e *Engine) execAwaitPlan(inst *Instance, step manifest.PlanStepDef) error {
	handle := stringParam(step.Params, "handle")
	inst.PlanWaits[step.Name] = append(inst.PlanWaits[step.Name], handle)
	inst.StepStates[step.Name] = StatusWaitingPlan
	return nil
}

func (e *Engine) execAwaitPlansAll(inst *Instance, step manifest.PlanStepDef) error {
	handles, _ := step.Params["handles"].([]any)
	var ids []string
	for _, h := range handles {
		if s, ok := h.(string); ok {
			ids = append(ids, s)
		}
	}
	inst.PlanWaits[step.Name] = ids
	inst.StepStates[step.Name] = StatusWaitingPlan
	return nil
}

func (e *Engine) execEnd(inst *Instance, step manifest.PlanStepDef) error {
	expr := stringParam(step.Params, "result_expr")
	val, err := e.eval(expr, inst)
	if err != nil {
		return err
	}
	inst.Steps[step.Name] = val
	inst.StepStates[step.Name] = StatusCompleted
	inst.Outcome = OutcomeEnded
	return nil
}

// DeliverReceipt resumes the AwaitReceipt step waiting on handle,
// binding the receipt's decoded payload as the step's value.
func (e *Engine) DeliverReceipt(inst *Instance, handle string, payload any) error {
	stepName, ok := inst.ReceiptWaits[handle]
	if !ok {
		return fmt.Errorf("plan: no step awaiting receipt handle %q", handle)
	}
	inst.Steps[stepName] = payload
	inst.StepStates[stepName] = StatusCompleted
	delete(inst.ReceiptWaits, handle)
	delete(inst.EffectHandles, handle)
	return nil
}

// DeliverEvent resumes every AwaitEvent step waiting on schema, binding
// the event value and setting inst.CurrentEvent for the remainder of the
// tick (spec §4.5: "trigger event values are reachable as plan.input").
func (e *Engine) DeliverEvent(inst *Instance, schema string, value any) {
	inst.CurrentEvent = value
	for stepName, waitSchema := range inst.EventWaits {
		if waitSchema != schema {
			continue
		}
		inst.Steps[stepName] = value
		inst.StepStates[stepName] = StatusCompleted
		delete(inst.EventWaits, stepName)
	}
}

// DeliverPlanResult resumes steps awaiting a spawned child plan's id.
func (e *Engine) DeliverPlanResult(inst *Instance, planID string, result any) {
	for stepName, ids := range inst.PlanWaits {
		remaining := ids[:0]
		resolved := false
		for _, id := range ids {
			if id == planID {
				resolved = true
				continue
			}
			remaining = append(remaining, id)
		}
		if !resolved {
			continue
		}
		inst.PlanWaits[stepName] = remaining
		if len(remaining) == 0 {
			inst.Steps[stepName] = result
			inst.StepStates[stepName] = StatusCompleted
			delete(inst.PlanWaits, stepName)
		}
	}
}
