package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/tenantry/pkg/async"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

const writeTimeout = 5 * time.Second

// Recorder persists audit events in the background so request handlers
// never wait on the audit table. It implements auth.AuditSink.
type Recorder struct {
	store  *Store
	writes *async.Group
}

var _ auth.AuditSink = (*Recorder)(nil)

// NewRecorder creates a recorder writing through store
func NewRecorder(store *Store, logger *observability.Logger) *Recorder {
	return &Recorder{store: store, writes: async.NewGroup(logger, writeTimeout)}
}

// Record queues the event for insertion. The request id is captured from
// ctx before the write is detached from it.
func (r *Recorder) Record(ctx context.Context, event auth.AuditEvent) {
	requestID := observability.GetRequestID(ctx)
	r.writes.Go("audit event write", func(ctx context.Context) error {
		return r.store.Insert(ctx, event, requestID)
	})
}

// Wait blocks until queued writes finish
func (r *Recorder) Wait() {
	r.writes.Wait()
}
