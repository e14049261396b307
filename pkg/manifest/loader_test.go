package manifest_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/store"
)

// writeNodeFile marshals a nodeFile-shaped document directly since the
// loader's nodeFile type is unexported; the on-disk contract is just
// {"kind","name","body"}.
func writeNodeFile(t *testing.T, dir, filename string, kind manifest.Kind, name string, body any) {
	t.Helper()
	bodyBytes, err := json.Marshal(body)
	require.NoError(t, err)
	doc := map[string]any{
		"kind": kind,
		"name": name,
		"body": json.RawMessage(bodyBytes),
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), data, 0o644))
}

func writeManifestFile(t *testing.T, dir string, m manifest.Manifest) {
	t.Helper()
	writeNodeFile(t, dir, "manifest.json", manifest.KindManifest, "", m)
}

func TestLoadDirResolvesPlaceholdersAndValidates(t *testing.T) {
	dir := t.TempDir()
	writeNodeFile(t, dir, "cap_http.json", manifest.KindCapability, "http",
		manifest.CapabilityDef{Name: "http", CapType: "http"})
	writeNodeFile(t, dir, "mod_counter.json", manifest.KindModule, "demo/CounterSM",
		manifest.ModuleDef{Name: "demo/CounterSM", EffectsEmitted: []string{"http.request"}})
	writeNodeFile(t, dir, "eff_http.json", manifest.KindEffect, "http.request",
		manifest.EffectDef{Name: "http.request"})
	writeNodeFile(t, dir, "pol_default.json", manifest.KindPolicy, "default",
		manifest.PolicyDef{Name: "default", Rules: []manifest.PolicyRule{{Decision: "Allow"}}})

	m := manifest.Manifest{
		Modules:      []manifest.Ref{{Name: "demo/CounterSM"}},
		Capabilities: []manifest.Ref{{Name: "http"}},
		Effects:      []manifest.Ref{{Name: "http.request"}},
		Policies:     []manifest.Ref{{Name: "default"}},
		Defaults: manifest.Defaults{
			Policy:    "default",
			CapGrants: []manifest.CapGrant{{Name: "http-grant", Cap: "http"}},
		},
		Bindings: []manifest.ModuleBinding{{Module: "demo/CounterSM", Slot: "http", Grant: "http-grant"}},
	}
	writeManifestFile(t, dir, m)

	cas := store.NewMemCAS()
	loader := manifest.NewLoader(cas)
	lm, err := loader.LoadDir(context.Background(), dir)
	require.NoError(t, err)

	require.False(t, lm.Hash.IsZero())
	require.Contains(t, lm.Modules, "demo/CounterSM")
	require.Contains(t, lm.Capabilities, "http")

	for _, r := range lm.Manifest.Modules {
		require.False(t, r.Hash.IsZero(), "module ref hash should be resolved from placeholder")
	}
}

func TestLoadDirRejectsDanglingBinding(t *testing.T) {
	dir := t.TempDir()
	writeNodeFile(t, dir, "mod_counter.json", manifest.KindModule, "demo/CounterSM", manifest.ModuleDef{Name: "demo/CounterSM"})

	m := manifest.Manifest{
		Modules:  []manifest.Ref{{Name: "demo/CounterSM"}},
		Bindings: []manifest.ModuleBinding{{Module: "demo/CounterSM", Slot: "http", Grant: "no-such-grant"}},
	}
	writeManifestFile(t, dir, m)

	cas := store.NewMemCAS()
	loader := manifest.NewLoader(cas)
	_, err := loader.LoadDir(context.Background(), dir)
	require.Error(t, err)
}

func TestLoadDirRejectsDuplicateNamesWithinKind(t *testing.T) {
	dir := t.TempDir()
	writeNodeFile(t, dir, "mod_a.json", manifest.KindModule, "demo/A", manifest.ModuleDef{Name: "demo/A"})
	writeNodeFile(t, dir, "mod_b.json", manifest.KindModule, "demo/A", manifest.ModuleDef{Name: "demo/A"})
	writeManifestFile(t, dir, manifest.Manifest{Modules: []manifest.Ref{{Name: "demo/A"}}})

	cas := store.NewMemCAS()
	loader := manifest.NewLoader(cas)
	_, err := loader.LoadDir(context.Background(), dir)
	require.Error(t, err)
}

func TestLoadDirRequiresExactlyOneManifestNode(t *testing.T) {
	dir := t.TempDir()
	cas := store.NewMemCAS()
	loader := manifest.NewLoader(cas)
	_, err := loader.LoadDir(context.Background(), dir)
	require.Error(t, err)
}
