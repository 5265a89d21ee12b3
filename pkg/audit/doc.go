// Package audit keeps the persisted audit trail.
//
// Every event accepted by auth.AuditLogger is logged and, when a Recorder is
// attached as a sink, inserted into the audit_events table in the
// background:
//
//	store := audit.NewStore(db)
//	recorder := audit.NewRecorder(store, logger)
//	auditLogger := auth.NewAuditLogger(logger, recorder)
//	defer recorder.Wait()
//
// Handlers expose the trail to organization administrators (settings read
// permission) and platform administrators, as JSON pages or as a CSV or
// NDJSON export. Store.Cleanup enforces the retention window.
package audit
