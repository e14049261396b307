package effect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/capability"
	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/pdp"
	"github.com/aoscore/aos/pkg/policy"
	"github.com/aoscore/aos/pkg/secretref"
)

type fakeJournal struct {
	seq     uint64
	records []fakeRecord
}

type fakeRecord struct {
	kind    string
	payload any
}

func (f *fakeJournal) Append(_ context.Context, kind string, payload any) (uint64, error) {
	f.seq++
	f.records = append(f.records, fakeRecord{kind: kind, payload: payload})
	return f.seq, nil
}

type fakeSecretSource struct{}

func (fakeSecretSource) Fetch(context.Context, string, string) ([]byte, error) {
	return nil, nil
}

func testManifest(policyRules []manifest.PolicyRule) *manifest.LoadedManifest {
	lm := &manifest.LoadedManifest{
		Manifest: manifest.Manifest{
			Defaults: manifest.Defaults{
				Policy: "default",
				CapGrants: []manifest.CapGrant{
					{Name: "http-grant", Cap: "http"},
				},
			},
		},
		Modules: map[string]manifest.ModuleDef{
			"demo/CounterSM": {
				Name:           "demo/CounterSM",
				EffectsEmitted: []string{"http.request"},
			},
		},
		Capabilities: map[string]manifest.CapabilityDef{
			"http": {Name: "http", CapType: "http"},
		},
		Effects: map[string]manifest.EffectDef{
			"http.request": {Name: "http.request"},
		},
		Policies: map[string]manifest.PolicyDef{
			"default": {Name: "default", Rules: policyRules},
		},
		Secrets: map[string]manifest.SecretDef{},
	}
	return lm
}

func newTestManager(t *testing.T, policyRules []manifest.PolicyRule) (*Manager, *fakeJournal) {
	t.Helper()
	lm := testManifest(policyRules)

	resolver, err := capability.NewResolver(lm)
	require.NoError(t, err)

	engine, err := policy.NewEngine()
	require.NoError(t, err)

	gate := pdp.NewGate(lm, resolver, engine, nil)
	secrets := secretref.NewResolver(fakeSecretSource{})
	journal := &fakeJournal{}

	return NewManager(lm, gate, secrets, journal), journal
}

func TestEnqueueWorkflowEffectAllowed(t *testing.T) {
	mgr, journal := newTestManager(t, []manifest.PolicyRule{
		{EffectKind: "http.request", Decision: "Allow"},
	})

	intent, err := mgr.EnqueueWorkflowEffect(context.Background(), "demo/CounterSM", []byte("key-1"), "http.request", "http-grant",
		map[string]any{"url": "https://example.test"}, [32]byte{1})
	require.NoError(t, err)
	require.False(t, intent.IntentHash.IsZero())

	pending := mgr.Drain()
	require.Len(t, pending, 1)
	require.Equal(t, intent.IntentHash, pending[0].IntentHash)

	var sawIntent, sawDecision bool
	for _, r := range journal.records {
		switch r.kind {
		case "EffectIntent":
			sawIntent = true
		case "CapDecision":
			sawDecision = true
		}
	}
	require.True(t, sawIntent)
	require.True(t, sawDecision)
}

func TestEnqueueWorkflowEffectDenied(t *testing.T) {
	mgr, _ := newTestManager(t, []manifest.PolicyRule{
		{EffectKind: "http.request", Decision: "Deny", Code: "policy.blocked"},
	})

	_, err := mgr.EnqueueWorkflowEffect(context.Background(), "demo/CounterSM", []byte("key-1"), "http.request", "http-grant",
		map[string]any{"url": "https://example.test"}, [32]byte{1})
	require.Error(t, err)
	var denyErr *DenyError
	require.ErrorAs(t, err, &denyErr)
	require.Equal(t, "policy.blocked", denyErr.Code)

	require.Empty(t, mgr.Drain())
}

func TestEnqueueRejectsUndeclaredEffect(t *testing.T) {
	mgr, _ := newTestManager(t, []manifest.PolicyRule{
		{Decision: "Allow"},
	})

	_, err := mgr.EnqueueWorkflowEffect(context.Background(), "demo/CounterSM", nil, "unknown.kind", "http-grant", nil, [32]byte{})
	require.Error(t, err)
}

func TestDeliverSettlesAndRemovesFromInflight(t *testing.T) {
	mgr, journal := newTestManager(t, []manifest.PolicyRule{
		{Decision: "Allow"},
	})
	ctx := context.Background()

	intent, err := mgr.EnqueueWorkflowEffect(ctx, "demo/CounterSM", []byte("k"), "http.request", "http-grant", map[string]any{}, [32]byte{2})
	require.NoError(t, err)
	mgr.Drain()

	payload, err := codec.Encode(map[string]any{"status_code": int64(200)})
	require.NoError(t, err)

	result, err := mgr.Deliver(ctx, Receipt{IntentHash: intent.IntentHash, AdapterID: "http", Status: StatusOk, PayloadCBOR: payload})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.True(t, result.Allowed)

	// Re-delivering the same receipt is now a silent drop (recent set).
	result2, err := mgr.Deliver(ctx, Receipt{IntentHash: intent.IntentHash, AdapterID: "http", Status: StatusOk, PayloadCBOR: payload})
	require.NoError(t, err)
	require.Nil(t, result2)

	var receiptCount int
	for _, r := range journal.records {
		if r.kind == "EffectReceipt" {
			receiptCount++
		}
	}
	require.Equal(t, 1, receiptCount)
}

func TestDeliverUnknownIntentErrors(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	_, err := mgr.Deliver(context.Background(), Receipt{IntentHash: codec.Sum([]byte("never-enqueued"))})
	require.Error(t, err)
}
