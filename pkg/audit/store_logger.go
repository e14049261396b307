package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aoscore/aos/pkg/store"
)

// StoreLogger records audit events into a hash-chained AuditStore
// instead of a plain JSON stream, so decisions survive process restart
// and can be walked back for a governance review.
type StoreLogger struct {
	store *store.AuditStore
}

func NewStoreLogger(s *store.AuditStore) *StoreLogger {
	return &StoreLogger{store: s}
}

func (l *StoreLogger) Record(_ context.Context, eventType EventType, actor, action, resource string, metadata map[string]interface{}) error {
	if l.store == nil {
		return fmt.Errorf("fail-closed: audit store not configured")
	}
	if actor == "" {
		actor = "system"
	}

	evt := Event{
		ID:        uuid.New().String(),
		Actor:     actor,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	_, err := l.store.Append(store.EntryTypeAudit, resource, action, evt, map[string]string{
		"actor":      actor,
		"event_id":   evt.ID,
		"event_type": string(eventType),
	})
	return err
}
