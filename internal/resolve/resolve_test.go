package resolve

import (
	"reflect"
	"testing"
	"time"

	"github.com/kastlog/kastlog/internal/model"
	"github.com/kastlog/kastlog/internal/store"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func session(kubbs, batons int, modified time.Time) *model.Session {
	return &model.Session{
		ID:          "session-1",
		Date:        "2026-03-14",
		Target:      30,
		TotalKubbs:  kubbs,
		TotalBatons: batons,
		CreatedAt:   base,
		ModifiedAt:  modified,
	}
}

func record(recordID, sessionID string, created, modified time.Time) *store.Record {
	return &store.Record{
		RecordID:   recordID,
		SessionID:  sessionID,
		Date:       "2026-03-14",
		Target:     30,
		CreatedAt:  created,
		ModifiedAt: modified,
	}
}

func TestShouldOverwrite(t *testing.T) {
	earlier := base
	later := base.Add(time.Minute)

	tests := []struct {
		name      string
		candidate *model.Session
		existing  *model.Session
		want      bool
	}{
		{
			name:      "more progress wins even when older",
			candidate: session(12, 24, earlier),
			existing:  session(8, 16, later),
			want:      true,
		},
		{
			name:      "less progress loses even when newer",
			candidate: session(8, 16, later),
			existing:  session(12, 24, earlier),
			want:      false,
		},
		{
			name:      "equal progress, newer timestamp wins",
			candidate: session(10, 20, later),
			existing:  session(10, 20, earlier),
			want:      true,
		},
		{
			name:      "equal progress, older timestamp loses",
			candidate: session(10, 20, earlier),
			existing:  session(10, 20, later),
			want:      false,
		},
		{
			name:      "identical copies keep the existing one",
			candidate: session(10, 20, earlier),
			existing:  session(10, 20, earlier),
			want:      false,
		},
		{
			name:      "mixed progress falls through to timestamps",
			candidate: session(12, 18, later),
			existing:  session(10, 20, earlier),
			want:      true,
		},
		{
			name:      "reset round looks like fewer batons but not fewer kubbs",
			candidate: session(10, 18, later),
			existing:  session(10, 20, earlier),
			want:      true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldOverwrite(tt.candidate, tt.existing); got != tt.want {
				t.Errorf("ShouldOverwrite() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanonicalRecord(t *testing.T) {
	a := record("rec-a", "s1", base, base)
	b := record("rec-b", "s1", base, base.Add(time.Minute))

	if got := CanonicalRecord([]*store.Record{a, b}); got != b {
		t.Errorf("canonical = %s, want rec-b (newer)", got.RecordID)
	}

	// Equal ModifiedAt: the greater record id wins, regardless of order.
	c := record("rec-c", "s1", base, base)
	if got := CanonicalRecord([]*store.Record{a, c}); got != c {
		t.Errorf("canonical = %s, want rec-c (tie broken by id)", got.RecordID)
	}
	if got := CanonicalRecord([]*store.Record{c, a}); got != c {
		t.Errorf("canonical = %s, want rec-c independent of input order", got.RecordID)
	}

	if CanonicalRecord(nil) != nil {
		t.Error("canonical of empty group should be nil")
	}
}

func TestCanonicalCollapsesPerSession(t *testing.T) {
	records := []*store.Record{
		record("rec-1", "s1", base, base),
		record("rec-2", "s1", base, base.Add(time.Minute)),
		record("rec-3", "s2", base.Add(time.Hour), base.Add(time.Hour)),
	}

	got := Canonical(records)
	if len(got) != 2 {
		t.Fatalf("expected 2 canonical records, got %d", len(got))
	}
	// Newest CreatedAt first.
	if got[0].SessionID != "s2" {
		t.Errorf("first = %s, want s2 (newer CreatedAt)", got[0].SessionID)
	}
	if got[1].RecordID != "rec-2" {
		t.Errorf("s1 canonical = %s, want rec-2", got[1].RecordID)
	}
}

func TestDuplicates(t *testing.T) {
	records := []*store.Record{
		record("rec-1", "s1", base, base),
		record("rec-2", "s1", base, base.Add(time.Minute)),
		record("rec-3", "s1", base, base.Add(2*time.Minute)),
		record("rec-4", "s2", base, base),
	}

	got := Duplicates(records)
	want := []string{"rec-1", "rec-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Duplicates() = %v, want %v", got, want)
	}
}

func TestDuplicatesIdempotent(t *testing.T) {
	unique := []*store.Record{
		record("rec-1", "s1", base, base),
		record("rec-2", "s2", base, base),
	}
	if got := Duplicates(unique); len(got) != 0 {
		t.Errorf("sweep over unique records returned %v, want none", got)
	}
}
