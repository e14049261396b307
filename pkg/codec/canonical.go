package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/text/unicode/norm"
)

// canonEncMode is the shared deterministic CBOR encoding mode: sorted map
// keys by encoded byte string (bytewise, matching spec §6's "canonical
// byte-ordered keys"), shortest-form integers, no indefinite-length items.
// It is the binary counterpart of the JSON canonicalization in
// pkg/canonicalize.
var canonEncMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions() // RFC 8949 §4.2 core deterministic profile
	opts.Time = cbor.TimeRFC3339Nano
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: building canonical encode mode: %v", err))
	}
	canonEncMode = mode
}

// Encode canonicalizes and serializes v to its deterministic CBOR byte
// sequence. Maps are emitted with bytewise sorted keys (the map-key
// requirement of spec §6); struct fields are emitted as map entries and
// sorted the same way, by encoded field name, not in declaration order;
// integers use the shortest canonical width.
//
// v must already satisfy the value-domain constraints of §6 (no raw
// float64 in equality-bearing fields — use Decimal; no duplicate set
// members — use NormalizeTree for dynamically-typed payloads first).
func Encode(v any) ([]byte, error) {
	return canonEncMode.Marshal(v)
}

// Decode deserializes canonical CBOR bytes into out.
func Decode(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

// ArrayKind classifies how an array at a given JSON-Pointer path must be
// normalized.
type ArrayKind string

const (
	// ArrayOrdered preserves element order as authored.
	ArrayOrdered ArrayKind = "ORDERED"
	// ArraySet requires deterministic sorting (and optional dedup).
	ArraySet ArrayKind = "SET"
)

// ArrayMeta declares how the array at a path must be normalized.
type ArrayMeta struct {
	Kind    ArrayKind
	SortKey string // JSON-Pointer to the sort field, relative to each element
	Unique  bool
}

// Schema carries the array metadata for one value's normalization pass,
// keyed by JSON-Pointer path from the value's root.
type Schema struct {
	Arrays map[string]ArrayMeta
}

// NormalizeTree applies the canonicalization rules of spec §6 to a
// dynamically-typed value tree (as produced by json.Unmarshal into `any`,
// or cbor.Unmarshal into `any`): strings are NFC-normalized, floats are
// rejected unless integral (fractional values must already be encoded as
// Decimal strings by the caller), SET arrays are sorted by declared sort
// key with a content-hash tie-break and optionally deduplicated.
//
// This is the function the effect manager (spec §4.4 step 3) runs effect
// params and receipt payloads through before hashing.
func NormalizeTree(v any, schema Schema) (any, error) {
	return normalizeAt(v, "", schema)
}

func normalizeAt(v any, path string, schema Schema) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return norm.NFC.String(val), nil
	case bool:
		return val, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val, nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("codec: fractional float at %s; use a Decimal string instead", path)
		}
		return int64(val), nil
	case Decimal:
		if err := val.Validate(); err != nil {
			return nil, fmt.Errorf("codec: invalid decimal at %s: %w", path, err)
		}
		return val, nil
	case []any:
		return normalizeArray(val, path, schema)
	case map[string]any:
		return normalizeObject(val, path, schema)
	default:
		return nil, fmt.Errorf("codec: unsupported type %T at %s", v, path)
	}
}

func normalizeObject(obj map[string]any, path string, schema Schema) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		nk := norm.NFC.String(k)
		nv, err := normalizeAt(v, path+"/"+k, schema)
		if err != nil {
			return nil, err
		}
		out[nk] = nv
	}
	return out, nil
}

func normalizeArray(arr []any, path string, schema Schema) ([]any, error) {
	out := make([]any, len(arr))
	for i, elem := range arr {
		ne, err := normalizeAt(elem, fmt.Sprintf("%s/%d", path, i), schema)
		if err != nil {
			return nil, err
		}
		out[i] = ne
	}

	meta, ok := schema.Arrays[path]
	if !ok || meta.Kind != ArraySet {
		return out, nil
	}

	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		cmp, err := compareSetElements(out[i], out[j], meta.SortKey)
		if err != nil {
			sortErr = err
			return false
		}
		return cmp < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	if meta.Unique {
		out = dedupSet(out)
	}
	return out, nil
}

func compareSetElements(a, b any, sortKey string) (int, error) {
	av, err := extractSortKey(a, sortKey)
	if err != nil {
		return 0, err
	}
	bv, err := extractSortKey(b, sortKey)
	if err != nil {
		return 0, err
	}
	if cmp := compareScalars(av, bv); cmp != 0 {
		return cmp, nil
	}
	ah, err := Encode(a)
	if err != nil {
		return 0, err
	}
	bh, err := Encode(b)
	if err != nil {
		return 0, err
	}
	ahash, bhash := Sum(ah), Sum(bh)
	return strings.Compare(ahash.String(), bhash.String()), nil
}

func extractSortKey(elem any, sortKey string) (any, error) {
	if sortKey == "" {
		switch elem.(type) {
		case string, int64, int:
			return elem, nil
		default:
			return nil, fmt.Errorf("codec: SET element without sort key must be a primitive")
		}
	}
	parts := strings.Split(strings.TrimPrefix(sortKey, "/"), "/")
	cur := elem
	for _, p := range parts {
		if p == "" {
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("codec: sort key %q not found in element", sortKey)
		}
		v, ok := m[p]
		if !ok {
			return nil, fmt.Errorf("codec: sort key %q missing from element", sortKey)
		}
		cur = v
	}
	return cur, nil
}

func compareScalars(a, b any) int {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	return compareInt(toInt64(a), toInt64(b))
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func dedupSet(arr []any) []any {
	seen := make(map[Hash]bool, len(arr))
	out := make([]any, 0, len(arr))
	for _, elem := range arr {
		b, err := Encode(elem)
		if err != nil {
			out = append(out, elem)
			continue
		}
		h := Sum(b)
		if !seen[h] {
			seen[h] = true
			out = append(out, elem)
		}
	}
	return out
}
