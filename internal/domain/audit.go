package domain

import "time"

// AuditEntry records one interaction with the HMRC API. Entries are
// append-only; retention is handled outside this service.
type AuditEntry struct {
	ID             int64
	UserID         string
	Operation      string
	Endpoint       string
	Method         string
	RequestParams  map[string]any
	ResponseStatus int
	ResponseData   map[string]any
	ErrorMessage   string
	DurationMS     int64
	CreatedAt      time.Time
}
