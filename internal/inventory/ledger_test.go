package inventory

import (
	"errors"
	"math"
	"testing"
	"time"

	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"
)

var day0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := day0.AddDate(0, 0, days)
	return &t
}

func twoLots() []Lot {
	return []Lot{
		{ID: "late", ProductID: "p", Quantity: 5, Unit: units.Piece, ExpiresAt: at(2), CreatedAt: day0},
		{ID: "early", ProductID: "p", Quantity: 5, Unit: units.Piece, ExpiresAt: at(1), CreatedAt: day0.Add(time.Hour)},
	}
}

var piecePackaging = map[string]units.Packaging{"p": {BaseUnit: units.Piece}}

func TestPlanDeductionFEFO(t *testing.T) {
	lots := twoLots()

	d, err := PlanDeduction(lots, []Demand{{ProductID: "p", Quantity: 7, Unit: units.Piece}}, piecePackaging)
	if err != nil {
		t.Fatalf("PlanDeduction failed: %v", err)
	}

	if len(d.Deleted) != 1 || d.Deleted[0] != "early" {
		t.Errorf("expected the day-1 lot to be consumed, got deleted=%v", d.Deleted)
	}
	if len(d.Updated) != 1 || d.Updated[0].ID != "late" || math.Abs(d.Updated[0].Quantity-3) > 1e-9 {
		t.Errorf("expected 3 left in the day-2 lot, got %+v", d.Updated)
	}
	if lots[0].Quantity != 5 || lots[1].Quantity != 5 {
		t.Error("input lots must not be modified")
	}
}

func TestPlanDeductionInsufficientIsAtomic(t *testing.T) {
	lots := twoLots()
	demand := []Demand{
		{ProductID: "p", Quantity: 11, Unit: units.Piece},
	}

	d, err := PlanDeduction(lots, demand, piecePackaging)
	if !errors.Is(err, shared.ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	if !d.Empty() {
		t.Errorf("expected empty write set, got %+v", d)
	}
	var insufficient *InsufficientError
	if !errors.As(err, &insufficient) || insufficient.ProductID != "p" || insufficient.Available != 10 {
		t.Errorf("expected error naming product p with 10 available, got %v", err)
	}
	if lots[0].Quantity != 5 || lots[1].Quantity != 5 {
		t.Error("lots must be untouched")
	}
}

func TestPlanDeductionLaterLineFailureAbortsEarlierLines(t *testing.T) {
	lots := append(twoLots(), Lot{ID: "flour", ProductID: "f", Quantity: 1, Unit: units.Kilogram, CreatedAt: day0})
	packagings := map[string]units.Packaging{
		"p": {BaseUnit: units.Piece},
		"f": {BaseUnit: units.Gram},
	}

	_, err := PlanDeduction(lots, []Demand{
		{ProductID: "p", Quantity: 2, Unit: units.Piece},
		{ProductID: "f", Quantity: 1500, Unit: units.Gram},
	}, packagings)
	if !errors.Is(err, shared.ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
}

func TestPlanDeductionConvertsUnits(t *testing.T) {
	lots := []Lot{
		{ID: "bag", ProductID: "f", Quantity: 1, Unit: units.Kilogram, CreatedAt: day0},
	}
	packagings := map[string]units.Packaging{"f": {BaseUnit: units.Gram}}

	d, err := PlanDeduction(lots, []Demand{{ProductID: "f", Quantity: 250, Unit: units.Gram}}, packagings)
	if err != nil {
		t.Fatalf("PlanDeduction failed: %v", err)
	}
	if len(d.Updated) != 1 || math.Abs(d.Updated[0].Quantity-0.75) > 1e-9 || d.Updated[0].Unit != units.Kilogram {
		t.Errorf("expected 0.75 kg left, got %+v", d.Updated)
	}
}

func TestPlanDeductionSameProductTwice(t *testing.T) {
	d, err := PlanDeduction(twoLots(), []Demand{
		{ProductID: "p", Quantity: 4, Unit: units.Piece},
		{ProductID: "p", Quantity: 4, Unit: units.Piece},
	}, piecePackaging)
	if err != nil {
		t.Fatalf("PlanDeduction failed: %v", err)
	}
	if len(d.Deleted) != 1 || len(d.Updated) != 1 || math.Abs(d.Updated[0].Quantity-2) > 1e-9 {
		t.Errorf("expected second line to see the first line's consumption, got %+v", d)
	}
}

func TestPlanDeductionUnconvertibleLot(t *testing.T) {
	lots := []Lot{{ID: "jug", ProductID: "m", Quantity: 1, Unit: units.Liter, CreatedAt: day0}}
	packagings := map[string]units.Packaging{"m": {BaseUnit: units.Liter}}

	_, err := PlanDeduction(lots, []Demand{{ProductID: "m", Quantity: 100, Unit: units.Gram}}, packagings)
	if !errors.Is(err, units.ErrConversionUnsupported) {
		t.Errorf("expected conversion error, got %v", err)
	}
}

func TestSortFEFO(t *testing.T) {
	lots := []Lot{
		{ID: "undated-old", CreatedAt: day0},
		{ID: "day3", ExpiresAt: at(3), CreatedAt: day0},
		{ID: "day1-new", ExpiresAt: at(1), CreatedAt: day0.Add(2 * time.Hour)},
		{ID: "day1-old", ExpiresAt: at(1), CreatedAt: day0.Add(time.Hour)},
		{ID: "undated-new", CreatedAt: day0.Add(time.Hour)},
	}
	SortFEFO(lots)

	want := []string{"day1-old", "day1-new", "day3", "undated-old", "undated-new"}
	for i, id := range want {
		if lots[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, lots[i].ID, id)
		}
	}
}

func TestMerge(t *testing.T) {
	lot := Lot{ID: "a", Quantity: 1, Unit: units.Kilogram}

	merged, err := Merge(lot, 500, units.Gram, units.Packaging{BaseUnit: units.Kilogram})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if math.Abs(merged.Quantity-1.5) > 1e-9 {
		t.Errorf("expected 1.5 kg, got %v", merged.Quantity)
	}

	if _, err := Merge(lot, 1, units.Liter, units.Packaging{BaseUnit: units.Kilogram}); !errors.Is(err, units.ErrConversionUnsupported) {
		t.Errorf("expected conversion error, got %v", err)
	}
}
