package audit_test

import (
	"testing"
	"time"

	"protoline/internal/audit"
	"protoline/internal/domain"
)

var fixed = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestNewEntry(t *testing.T) {
	e := audit.NewEntry(fixed, audit.ActionCreated, "Protocolo criado", "ana@escritorio.example")
	if e.ID == "" {
		t.Fatal("missing id")
	}
	if e.Timestamp != "2025-03-10T12:00:00Z" {
		t.Fatalf("timestamp = %q", e.Timestamp)
	}
}

func TestNormalizeKeepsCallerID(t *testing.T) {
	in := domain.LogEntry{ID: "custom-1", Action: "nota", Timestamp: "1999-01-01T00:00:00Z"}
	out := audit.Normalize(in, fixed)
	if out.ID != "custom-1" {
		t.Fatalf("id = %q", out.ID)
	}
	if out.Timestamp != "2025-03-10T12:00:00Z" {
		t.Fatalf("caller timestamps must be overwritten, got %q", out.Timestamp)
	}
	out = audit.Normalize(domain.LogEntry{Action: "nota"}, fixed)
	if out.ID == "" {
		t.Fatal("missing id should be filled")
	}
}

func TestParseCorruptLog(t *testing.T) {
	entries, recovered := audit.Parse(`{{definitely not json`)
	if !recovered || len(entries) != 0 {
		t.Fatalf("recovered=%v entries=%d", recovered, len(entries))
	}
	entries, recovered = audit.Parse("")
	if recovered || entries != nil {
		t.Fatalf("empty raw: recovered=%v entries=%v", recovered, entries)
	}
}

func TestMarshalNilLogStoresEmptyArray(t *testing.T) {
	raw, err := audit.Marshal(nil)
	if err != nil {
		t.Fatal(err)
	}
	if raw != "[]" {
		t.Fatalf("raw = %q", raw)
	}
	entries, recovered := audit.Parse(raw)
	if recovered || len(entries) != 0 {
		t.Fatalf("round-trip: recovered=%v entries=%d", recovered, len(entries))
	}
}
