package store

import (
	"context"
	"errors"
	"testing"

	"eligo/app/core/guideline"
	"eligo/app/pkg/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.Close()

	// Reopening an already-migrated database must not re-run migrations.
	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	db.Close()
}

func TestGuidelineStoreSeedAndGet(t *testing.T) {
	s := NewGuidelineStore(openTestDB(t))
	ctx := context.Background()

	if err := s.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Seeding twice must not clobber anything.
	if err := s.Seed(ctx); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	g, err := s.Get(ctx, "default")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if g.AgeRange.Min != 50 || g.AgeRange.Max != 74 || g.IntervalMonths != 24 {
		t.Fatalf("unexpected seeded guidelines: %+v", g)
	}
}

func TestGuidelineStorePutRoundTrip(t *testing.T) {
	s := NewGuidelineStore(openTestDB(t))
	ctx := context.Background()

	g := types.DefaultGuidelines()
	g.AgeRange = types.AgeRange{Min: 45, Max: 70}
	g.IntervalMonths = 12
	if err := s.Put(ctx, "pilot-2025", g); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "pilot-2025")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != "pilot-2025" {
		t.Fatalf("version key not stamped into payload: %q", got.Version)
	}
	if got.AgeRange.Min != 45 || got.IntervalMonths != 12 {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestGuidelineStorePutRejectsInvalidAndKeepsOld(t *testing.T) {
	s := NewGuidelineStore(openTestDB(t))
	ctx := context.Background()

	if err := s.Put(ctx, "v1", types.DefaultGuidelines()); err != nil {
		t.Fatalf("put valid: %v", err)
	}

	bad := types.DefaultGuidelines()
	bad.IntervalMonths = -3
	err := s.Put(ctx, "v1", bad)
	var verr *guideline.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	got, err := s.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("get after rejected put: %v", err)
	}
	if got.IntervalMonths != 24 {
		t.Fatalf("rejected put mutated stored version: %+v", got)
	}
}

func TestGuidelineStoreGetUnknownVersion(t *testing.T) {
	s := NewGuidelineStore(openTestDB(t))
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestGuidelineStorePutRejectsEmptyVersion(t *testing.T) {
	s := NewGuidelineStore(openTestDB(t))
	err := s.Put(context.Background(), "   ", types.DefaultGuidelines())
	var verr *guideline.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for blank version, got %v", err)
	}
}

func TestGuidelineStoreList(t *testing.T) {
	s := NewGuidelineStore(openTestDB(t))
	ctx := context.Background()
	for _, v := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, v, types.DefaultGuidelines()); err != nil {
			t.Fatalf("put %s: %v", v, err)
		}
	}
	versions, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %v", versions)
	}
}

func TestAuditStoreRecordAndList(t *testing.T) {
	s := NewAuditStore(openTestDB(t))
	ctx := context.Background()

	records := []AuditRecord{
		{RunID: "r1", Scenario: "first", State: "completed", Decision: "ineligible", Method: "guidelines-aligned", Confidence: 0.9, Turns: 2, StartedAt: 100, FinishedAt: 110},
		{RunID: "r2", Scenario: "second", State: "cancelled", Turns: 1, StartedAt: 200, FinishedAt: 210},
	}
	for _, rec := range records {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.RunID, err)
		}
	}

	got, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].RunID != "r2" || got[1].RunID != "r1" {
		t.Fatalf("expected newest finished first, got %+v", got)
	}
	if got[1].Decision != "ineligible" || got[1].Method != "guidelines-aligned" || got[1].Confidence != 0.9 {
		t.Fatalf("decision fields lost: %+v", got[1])
	}
	if got[0].Decision != "" {
		t.Fatalf("cancelled run should carry no decision: %+v", got[0])
	}

	// Re-recording the same run id updates in place.
	if err := s.Record(ctx, AuditRecord{RunID: "r2", Scenario: "second", State: "error", Turns: 3, StartedAt: 200, FinishedAt: 220}); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	got, err = s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list after update: %v", err)
	}
	if len(got) != 2 || got[0].State != "error" || got[0].Turns != 3 {
		t.Fatalf("upsert did not update: %+v", got)
	}
}
