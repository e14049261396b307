// Package observability provides OpenTelemetry tracing and metrics for the
// kernel runtime: step execution, effect delivery, and governance apply.
//
// # Tracing and metrics
//
// Initialize a provider at process startup:
//
//	prov, err := observability.New(ctx, observability.DefaultConfig())
//	defer prov.Shutdown(ctx)
//
// Track an operation from start to finish:
//
//	ctx, done := prov.TrackOperation(ctx, "kernel.step")
//	err := k.Step(ctx)
//	done(err)
//
// Create spans manually:
//
//	ctx, span := prov.StartSpan(ctx, "effect.deliver", trace.WithAttributes(
//		observability.EffectDelivery(intent.Kind, intent.IntentHash.String(), "ok")...,
//	))
//	defer span.End()
package observability
