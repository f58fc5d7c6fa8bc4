package allocator

import (
	"context"
	"errors"
	"testing"

	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/db/dbtest"
)

func TestAllocateStartsAtOne(t *testing.T) {
	a := New(dbtest.Open(t))

	id, err := a.Allocate(context.Background(), db.CategoryStandard)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if id != "LASD-DST001" {
		t.Errorf("expected LASD-DST001, got %q", id)
	}
}

func TestAllocateInterleavedCategories(t *testing.T) {
	a := New(dbtest.Open(t))
	ctx := context.Background()

	order := []db.Category{
		db.CategoryStandard, db.CategoryElevated, db.CategoryStandard,
		db.CategoryStandard, db.CategoryElevated,
	}
	want := []string{"LASD-DST001", "LASD-EVOC001", "LASD-DST002", "LASD-DST003", "LASD-EVOC002"}

	seen := make(map[string]bool)
	for i, c := range order {
		id, err := a.Allocate(ctx, c)
		if err != nil {
			t.Fatalf("allocate %d failed: %v", i, err)
		}
		if id != want[i] {
			t.Errorf("allocation %d: expected %q, got %q", i, want[i], id)
		}
		if seen[id] {
			t.Errorf("id %q issued twice", id)
		}
		seen[id] = true
	}
}

func TestAllocateContinuesAfterExistingIDs(t *testing.T) {
	d := dbtest.Open(t)
	d.Create(&db.IssuedID{ID: "LASD-DST041", Category: db.CategoryStandard, Seq: 41})
	d.Create(&db.IssuedID{ID: "LASD-DST007", Category: db.CategoryStandard, Seq: 7})

	id, err := New(d).Allocate(context.Background(), db.CategoryStandard)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if id != "LASD-DST042" {
		t.Errorf("expected LASD-DST042, got %q", id)
	}
}

func TestAllocateWidensPastThreeDigits(t *testing.T) {
	d := dbtest.Open(t)
	d.Create(&db.IssuedID{ID: "LASD-EVOC999", Category: db.CategoryElevated, Seq: 999})

	id, err := New(d).Allocate(context.Background(), db.CategoryElevated)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if id != "LASD-EVOC1000" {
		t.Errorf("expected LASD-EVOC1000, got %q", id)
	}
}

func TestAllocateCustomPrefix(t *testing.T) {
	a := New(dbtest.Open(t), WithPrefix(db.CategoryStandard, "TRN-"))

	id, err := a.Allocate(context.Background(), db.CategoryStandard)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if id != "TRN-001" {
		t.Errorf("expected TRN-001, got %q", id)
	}
}

func TestAllocateUnknownCategory(t *testing.T) {
	a := New(dbtest.Open(t))
	if _, err := a.Allocate(context.Background(), db.Category("XYZ")); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestAllocateStorageUnavailable(t *testing.T) {
	d := dbtest.Open(t)
	sqlDB, _ := d.DB()
	sqlDB.Close()

	_, err := New(d).Allocate(context.Background(), db.CategoryStandard)
	if !errors.Is(err, db.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestParse(t *testing.T) {
	a := New(nil)

	tests := []struct {
		id   string
		cat  db.Category
		seq  int
		okay bool
	}{
		{"LASD-DST001", db.CategoryStandard, 1, true},
		{"LASD-DST1200", db.CategoryStandard, 1200, true},
		{"LASD-EVOC015", db.CategoryElevated, 15, true},
		{"LASD-T001", "", 0, false},
		{"LASD-DSTabc", "", 0, false},
		{"LASD-DST000", "", 0, false},
	}
	for _, tt := range tests {
		cat, seq, ok := a.Parse(tt.id)
		if ok != tt.okay || cat != tt.cat || seq != tt.seq {
			t.Errorf("Parse(%q) = (%q, %d, %v), want (%q, %d, %v)", tt.id, cat, seq, ok, tt.cat, tt.seq, tt.okay)
		}
	}
}
