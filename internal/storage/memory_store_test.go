package storage

import (
	"testing"
	"time"

	"ddosguard/pkg/models"
)

func TestMemoryStoreUpsertGetDelete(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()

	if rec, err := s.Get("198.51.100.1"); err != nil || rec != nil {
		t.Fatalf("expected nil for missing record, got %+v err=%v", rec, err)
	}

	expires := base.Add(time.Hour)
	rec := &models.BlockRecord{
		SourceID:  "198.51.100.1",
		Severity:  models.SeverityMedium,
		BlockedAt: base,
		ExpiresAt: &expires,
		Reason:    "combined threat level 0.65",
	}
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get("198.51.100.1")
	if err != nil || got == nil {
		t.Fatalf("Get: %+v err=%v", got, err)
	}
	if got.Severity != models.SeverityMedium || !got.BlockedAt.Equal(base) {
		t.Fatalf("unexpected record: %+v", got)
	}

	rec.Severity = models.SeveritySevere
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}
	got, _ = s.Get("198.51.100.1")
	if got.Severity != models.SeveritySevere {
		t.Fatalf("expected overwritten severity, got %+v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}

	if err := s.Delete("198.51.100.1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

func TestMemoryStoreListActiveFiltersExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()

	past := base.Add(-time.Minute)
	future := base.Add(time.Hour)
	s.Upsert(&models.BlockRecord{SourceID: "expired-src", BlockedAt: base.Add(-time.Hour), ExpiresAt: &past})
	s.Upsert(&models.BlockRecord{SourceID: "active-src", BlockedAt: base, ExpiresAt: &future})
	s.Upsert(&models.BlockRecord{SourceID: "permanent-src", BlockedAt: base})

	active, err := s.ListActive(base)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active records, got %d", len(active))
	}
	for _, rec := range active {
		if rec.SourceID == "expired-src" {
			t.Fatalf("expired record must be filtered out")
		}
	}
}
