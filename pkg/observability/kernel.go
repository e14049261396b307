// Package observability provides AOS-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AOS-specific semantic convention attributes.
var (
	// Module attributes
	AttrModuleName = attribute.Key("aos.module.name")
	AttrModuleHash = attribute.Key("aos.module.wasm_hash")

	// Workflow attributes
	AttrWorkflowKey    = attribute.Key("aos.workflow.key")
	AttrWorkflowStatus = attribute.Key("aos.workflow.status")

	// Plan attributes
	AttrPlanID       = attribute.Key("aos.plan.id")
	AttrPlanName     = attribute.Key("aos.plan.name")
	AttrPlanStep     = attribute.Key("aos.plan.step")
	AttrPlanOutcome  = attribute.Key("aos.plan.outcome")

	// Effect attributes
	AttrEffectKind     = attribute.Key("aos.effect.kind")
	AttrEffectIntent   = attribute.Key("aos.effect.intent_hash")
	AttrEffectStatus   = attribute.Key("aos.effect.status")

	// PDP/Policy attributes
	AttrPolicyName   = attribute.Key("aos.policy.name")
	AttrPDPStage     = attribute.Key("aos.pdp.stage") // enqueue | settle
	AttrPDPDecision  = attribute.Key("aos.pdp.decision")

	// Governance attributes
	AttrProposalID     = attribute.Key("aos.governance.proposal_id")
	AttrProposalStatus = attribute.Key("aos.governance.status")
	AttrManifestHash   = attribute.Key("aos.manifest.hash")
)

// WorkflowStep creates attributes for a workflow reducer step.
func WorkflowStep(module, key, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrModuleName.String(module),
		AttrWorkflowKey.String(key),
		AttrWorkflowStatus.String(status),
	}
}

// PlanStep creates attributes for a plan engine step transition.
func PlanStep(planID, planName, step, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPlanID.String(planID),
		AttrPlanName.String(planName),
		AttrPlanStep.String(step),
		AttrPlanOutcome.String(outcome),
	}
}

// EffectDelivery creates attributes for an effect intent dispatch or receipt delivery.
func EffectDelivery(kind, intentHash, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEffectKind.String(kind),
		AttrEffectIntent.String(intentHash),
		AttrEffectStatus.String(status),
	}
}

// PDPDecision creates attributes for a PDP enqueue/settle evaluation.
func PDPDecision(policy, stage, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyName.String(policy),
		AttrPDPStage.String(stage),
		AttrPDPDecision.String(decision),
	}
}

// GovernanceTransition creates attributes for a proposal status transition.
func GovernanceTransition(proposalID, status, manifestHash string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProposalID.String(proposalID),
		AttrProposalStatus.String(status),
		AttrManifestHash.String(manifestHash),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
