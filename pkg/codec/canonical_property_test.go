package codec

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genScalarTree generates a subset of the values NormalizeTree accepts: a
// flat map from identifiers to string, int64, or boolean leaves.
func genScalarTree() gopter.Gen {
	leaf := gen.OneGenOf(
		gen.AlphaString(),
		gen.Int64Range(-1000, 1000),
		gen.Bool(),
	)
	return gen.MapOf(gen.Identifier(), leaf)
}

// TestCanonicalNormalizationIdempotent is a gopter property test covering
// the quantified invariant canonical(canonical(x)) == canonical(x) across
// generated input, complementing the fixed-case table-driven tests
// elsewhere in this package.
func TestCanonicalNormalizationIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize(normalize(x)) encodes identically to normalize(x)", prop.ForAll(
		func(m map[string]interface{}) bool {
			v := make(map[string]any, len(m))
			for k, val := range m {
				v[k] = val
			}

			once, err := NormalizeTree(v, Schema{})
			if err != nil {
				return true // input outside the normalizable domain; not a counterexample
			}
			twice, err := NormalizeTree(once, Schema{})
			if err != nil {
				return false
			}

			b1, err := Encode(once)
			if err != nil {
				return false
			}
			b2, err := Encode(twice)
			if err != nil {
				return false
			}
			return string(b1) == string(b2)
		},
		genScalarTree(),
	))

	properties.TestingRun(t)
}

// TestHashValueDeterministic exercises spec §8 invariant 2: equal content
// implies equal hash, regardless of Go map iteration order.
func TestHashValueDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("HashValue(v) is stable across repeated calls", prop.ForAll(
		func(m map[string]interface{}) bool {
			v := make(map[string]any, len(m))
			for k, val := range m {
				v[k] = val
			}
			h1, err := HashValue(v)
			if err != nil {
				return true
			}
			h2, err := HashValue(v)
			if err != nil {
				return false
			}
			return h1 == h2
		},
		genScalarTree(),
	))

	properties.TestingRun(t)
}
