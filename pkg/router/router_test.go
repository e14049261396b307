package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/manifest"
)

func testLM() *manifest.LoadedManifest {
	return &manifest.LoadedManifest{
		Manifest: manifest.Manifest{
			Routing: []manifest.RouteEntry{
				{EventSchema: "order.placed", Modules: []string{"demo/OrderSM"}, KeyField: "order.id"},
				{EventSchema: "order.flat", Modules: []string{"demo/OrderSM"}, KeyField: ""},
			},
			Triggers: []manifest.TriggerEntry{
				{EventSchema: "order.placed", Plan: "fulfillment"},
			},
		},
	}
}

func TestRouteExtractsNestedKey(t *testing.T) {
	r := NewRouter(testLM())
	routed, ok, err := r.Route("order.placed", map[string]any{
		"order": map[string]any{"id": "ord-1"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"demo/OrderSM"}, routed.Modules)
	require.Equal(t, "order.placed", routed.Variant.Tag)
	require.NotEmpty(t, routed.Key)
}

func TestRouteEmptyKeyFieldUsesWholePayload(t *testing.T) {
	r := NewRouter(testLM())
	routed, ok, err := r.Route("order.flat", map[string]any{"a": int64(1)})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, routed.Key)
}

func TestRouteUnknownSchemaNoMatch(t *testing.T) {
	r := NewRouter(testLM())
	_, ok, err := r.Route("never.declared", map[string]any{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRouteMissingKeyFieldErrors(t *testing.T) {
	r := NewRouter(testLM())
	_, _, err := r.Route("order.placed", map[string]any{"order": map[string]any{}})
	require.Error(t, err)
}

func TestTriggerPlanLookup(t *testing.T) {
	r := NewRouter(testLM())
	plan, ok := r.TriggerPlan("order.placed")
	require.True(t, ok)
	require.Equal(t, "fulfillment", plan)

	_, ok = r.TriggerPlan("no.trigger")
	require.False(t, ok)
}
