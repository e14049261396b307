// Package router maps an incoming event to the workflow modules that
// should observe it and to the plan a trigger should spawn, per the
// manifest's Routing/Triggers tables.
//
// Routing keys off a schema→module fan-out table plus a
// discriminated-union ("$tag"/"$value") envelope, so a module's reducer
// can pattern-match on event shape without needing the schema name
// threaded through every call site.
package router

import (
	"fmt"
	"strings"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/manifest"
)

// Variant is the tagged-union wire shape a reducer receives for any
// event: {"$tag": "<schema>", "$value": <payload>}.
type Variant struct {
	Tag   string `cbor:"$tag"`
	Value any    `cbor:"$value"`
}

// Routed is the result of routing one event.
type Routed struct {
	Modules []string
	Key     []byte
	Variant Variant
}

// Router resolves events against a loaded manifest's routing table.
type Router struct {
	lm *manifest.LoadedManifest
}

// NewRouter builds a Router bound to lm.
func NewRouter(lm *manifest.LoadedManifest) *Router {
	return &Router{lm: lm}
}

// Route looks up the RouteEntry declared for eventSchema, extracts the
// instance key named by its KeyField (a dot-separated path into
// payload), and wraps payload into the tagged Variant shape.
//
// An event schema with no declared route is not an error: spec §4.2
// allows events that exist only to be observed by AwaitEvent plan steps,
// with no module binding at all.
func (r *Router) Route(eventSchema string, payload map[string]any) (Routed, bool, error) {
	entry, ok := r.lm.RouteFor(eventSchema)
	if !ok {
		return Routed{}, false, nil
	}

	key, err := extractKey(payload, entry.KeyField)
	if err != nil {
		return Routed{}, false, fmt.Errorf("router: extract key for %q: %w", eventSchema, err)
	}
	keyBytes, err := codec.Encode(key)
	if err != nil {
		return Routed{}, false, fmt.Errorf("router: encode key for %q: %w", eventSchema, err)
	}

	return Routed{
		Modules: entry.Modules,
		Key:     keyBytes,
		Variant: Variant{Tag: eventSchema, Value: payload},
	}, true, nil
}

// TriggerPlan reports the plan a trigger declares for eventSchema, if
// any.
func (r *Router) TriggerPlan(eventSchema string) (string, bool) {
	return r.lm.TriggerFor(eventSchema)
}

// extractKey walks a dot-separated path ("order.id") into payload. An
// empty path uses the whole payload as the key, which is valid for
// singleton modules that never shard by key.
func extractKey(payload map[string]any, path string) (any, error) {
	if path == "" {
		return payload, nil
	}
	var cur any = payload
	for i, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path segment %d (%q): not a map", i, seg)
		}
		v, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("path segment %d (%q): not present", i, seg)
		}
		cur = v
	}
	return cur, nil
}
