package model

import "time"

// MatchStatus is the outcome of matching one document against the directory.
type MatchStatus string

const (
	// StatusMatched means exactly one directory record matched.
	StatusMatched MatchStatus = "matched"
	// StatusNoMatch means no directory record matched the extracted identity.
	StatusNoMatch MatchStatus = "no_match"
	// StatusMultipleMatches means more than one candidate matched.
	StatusMultipleMatches MatchStatus = "multiple_matches"
	// StatusExtractionFailed means neither a name nor an identifier was extracted.
	StatusExtractionFailed MatchStatus = "extraction_failed"
	// StatusSource marks an original multi-page file that was split into pages.
	// Source records are excluded from matching and renaming.
	StatusSource MatchStatus = "source"
)

// RecordKey is the unique key of a matching record. The persistence layer
// guarantees at most one record per key via its conflict resolution.
type RecordKey struct {
	TenantID      string
	ProcessID     string
	UserID        string
	FileReference string
	BatchID       string
}

// AuditEvent is one entry in a record's append-only audit trail.
type AuditEvent struct {
	Timestamp          time.Time          `json:"timestamp"`
	Action             string             `json:"action"`
	Status             string             `json:"status,omitempty"`
	UserID             string             `json:"user_id,omitempty"`
	Details            map[string]any     `json:"details,omitempty"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics,omitempty"`
}

// AuditLog holds the ordered event sequence for a record. Events are only
// ever appended; merges must preserve prior entries in order.
type AuditLog struct {
	Events []AuditEvent `json:"events"`
}

// MatchingRecord is the persisted unit of work, one per (tenant, process,
// user, file_reference, batch) key.
type MatchingRecord struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	ProcessID     string         `json:"process_id"`
	UserID        string         `json:"user_id"`
	FileReference string         `json:"file_reference"`
	ExtractedData map[string]any `json:"extracted_data"`
	MatchStatus   MatchStatus    `json:"match_status"`
	AuditLog      AuditLog       `json:"audit_log"`
	BatchID       string         `json:"batch_id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Audit action names.
const (
	ActionInitialMatch    = "initial_match"
	ActionSourceFileSaved = "source_file_saved"
	ActionFileRenamed     = "file_renamed"
)
