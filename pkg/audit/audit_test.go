package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/audit"
	"github.com/aoscore/aos/pkg/store"
)

func TestLogger_Record_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), audit.EventEffectDecision, "demo/Counter", "enqueue_allow", "http.request", nil)
	require.NoError(t, err)

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	jsonPart := strings.TrimSpace(strings.TrimPrefix(output, "AUDIT: "))
	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &event))

	assert.Equal(t, audit.EventEffectDecision, event.Type)
	assert.Equal(t, "enqueue_allow", event.Action)
	assert.Equal(t, "http.request", event.Resource)
	assert.Equal(t, "demo/Counter", event.Actor)
	assert.NotEmpty(t, event.ID)
	assert.Len(t, event.ID, 36) // UUID format: 8-4-4-4-12
}

func TestLogger_Record_DefaultsActorToSystem(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), audit.EventManifestInstalled, "", "install", "manifest", nil)
	require.NoError(t, err)

	jsonPart := strings.TrimSpace(strings.TrimPrefix(buf.String(), "AUDIT: "))
	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &event))
	assert.Equal(t, "system", event.Actor)
}

func TestLogger_Record_WithMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	meta := map[string]interface{}{"grant": "http-grant", "decision": "Allow"}
	err := logger.Record(context.Background(), audit.EventEffectDecision, "demo/Counter", "settle", "http.request", meta)
	require.NoError(t, err)

	jsonPart := strings.TrimSpace(strings.TrimPrefix(buf.String(), "AUDIT: "))
	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &event))
	assert.Equal(t, "http-grant", event.Metadata["grant"])
}

func TestStoreLogger_Record_AppendsToHashChain(t *testing.T) {
	s := store.NewAuditStore()
	logger := audit.NewStoreLogger(s)

	err := logger.Record(context.Background(), audit.EventGovernance, "approver-1", "approve", "patch-1", nil)
	require.NoError(t, err)

	entries := s.Query(store.QueryFilter{EntryType: store.EntryTypeAudit})
	require.Len(t, entries, 1)
	assert.Equal(t, "patch-1", entries[0].Subject)
	assert.Equal(t, "approve", entries[0].Action)
	assert.Equal(t, "approver-1", entries[0].Metadata["actor"])
}

func TestStoreLogger_Record_FailClosedWithoutStore(t *testing.T) {
	logger := audit.NewStoreLogger(nil)
	err := logger.Record(context.Background(), audit.EventGovernance, "approver-1", "approve", "patch-1", nil)
	require.Error(t, err)
}
