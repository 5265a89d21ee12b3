package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/auth"
)

const eventColumns = `id, action, status, user_id, organization_id, resource_type,
	resource_id, ip_address, reason, request_id, created_at`

// Store persists audit events in postgres
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes one event. Zero ids and empty strings are stored as NULL.
func (s *Store) Insert(ctx context.Context, event auth.AuditEvent, requestID string) error {
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (action, status, user_id, organization_id, resource_type,
			resource_id, ip_address, reason, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, event.Action, event.Status,
		nullID(event.UserID), nullID(event.OrganizationID),
		nullString(event.ResourceType), nullString(event.ResourceID),
		nullString(event.IPAddress), nullString(event.Reason), nullString(requestID),
		createdAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching the filter, newest first
func (s *Store) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	filter = filter.normalized()

	var (
		conditions []string
		args       []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.OrganizationID != nil {
		add("organization_id = $%d", *filter.OrganizationID)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Since != nil {
		add("created_at >= $%d", filter.Since.UTC())
	}
	if filter.Until != nil {
		add("created_at < $%d", filter.Until.UTC())
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			e                                         Event
			userID, orgID                             sql.NullInt64
			resourceType, resourceID, ip, reason, rid sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Status, &userID, &orgID, &resourceType,
			&resourceID, &ip, &reason, &rid, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		if orgID.Valid {
			e.OrganizationID = &orgID.Int64
		}
		e.ResourceType = resourceType.String
		e.ResourceID = resourceID.String
		e.IPAddress = ip.String
		e.Reason = reason.String
		e.RequestID = rid.String
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

// Cleanup deletes events created before cutoff and returns how many were removed
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit events: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit events: %w", err)
	}
	return removed, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
