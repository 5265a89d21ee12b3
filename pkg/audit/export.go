package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "created_at", "action", "status", "user_id", "organization_id",
	"resource_type", "resource_id", "ip_address", "reason", "request_id",
}

// Export writes events to w in the given format
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportFormatCSV:
		return exportCSV(w, events)
	case ExportFormatNDJSON:
		return exportNDJSON(w, events)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportNDJSON(w io.Writer, events []*Event) error {
	encoder := json.NewEncoder(w)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

func exportCSV(w io.Writer, events []*Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range events {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Action,
			e.Status,
			formatID(e.UserID),
			formatID(e.OrganizationID),
			e.ResourceType,
			e.ResourceID,
			e.IPAddress,
			e.Reason,
			e.RequestID,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
