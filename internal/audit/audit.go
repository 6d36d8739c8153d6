package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"protoline/internal/domain"
)

// Actions recorded in a protocol's activity trail.
const (
	ActionCreated      = "criação"
	ActionStatusChange = "status"
	ActionResubmitted  = "reenvio"
	ActionReassigned   = "realocação"
)

// NewEntry builds a log entry with a server-assigned id and timestamp.
func NewEntry(now time.Time, action, description, performedBy string) domain.LogEntry {
	return domain.LogEntry{
		ID:          uuid.New().String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
		Action:      action,
		Description: description,
		PerformedBy: performedBy,
	}
}

// Normalize fills in the server-assigned fields of a caller-supplied entry.
// The caller may bring its own id; the timestamp is always ours.
func Normalize(entry domain.LogEntry, now time.Time) domain.LogEntry {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Timestamp = now.UTC().Format(time.RFC3339)
	return entry
}

// Parse decodes a stored activity log. A corrupt payload yields an empty log
// and recovered=true instead of an error: the record must stay reachable, and
// the caller is expected to report the recovery as a data-quality warning
// rather than fail the whole update.
func Parse(raw string) (entries []domain.LogEntry, recovered bool) {
	if raw == "" {
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, true
	}
	return entries, false
}

// Marshal serializes entries for storage. A nil log stores as an empty array
// so the column round-trips without the recovery path.
func Marshal(entries []domain.LogEntry) (string, error) {
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
