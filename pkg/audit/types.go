package audit

import (
	"time"
)

// Page size bounds for Search
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Event is a persisted audit record
type Event struct {
	ID             int64     `json:"id"`
	Action         string    `json:"action"`
	Status         string    `json:"status"`
	UserID         *int64    `json:"user_id,omitempty"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	ResourceType   string    `json:"resource_type,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter narrows a Search. Zero values match everything.
type Filter struct {
	OrganizationID *int64
	UserID         *int64
	Action         string
	Status         string
	Since          *time.Time
	Until          *time.Time

	Limit  int
	Offset int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ExportFormat selects the export encoding
type ExportFormat string

const (
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// ContentType returns the media type for the format
func (f ExportFormat) ContentType() string {
	if f == ExportFormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}
