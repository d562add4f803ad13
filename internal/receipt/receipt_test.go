package receipt

import (
	"testing"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

func testProducts() []catalog.Product {
	egg := 60.0
	return []catalog.Product{
		{ID: "milk", Name: "Молоко пастеризоване", NameEn: "Whole milk", BaseUnit: units.Liter},
		{ID: "eggs", Name: "Яйця", NameEn: "Chicken eggs", BaseUnit: units.Gram, StandardPackaging: &egg},
		{ID: "flour", Name: "Борошно", NameEn: "Wheat flour", BaseUnit: units.Gram},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Whole-Milk 2.5% ", "whole milk 2 5"},
		{"МОЛОКО, 1л", "молоко 1л"},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"whole milk", "whole milk", 1},
		{"whole milk", "milk", 0.5},
		{"wheat flour", "whole milk", 0},
		{"", "milk", 0},
	}
	for _, tt := range tests {
		if got := Similarity(tt.a, tt.b); got != tt.want {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	lines := Match([]Line{
		{Name: "WHOLE MILK", Quantity: 1, Unit: units.Liter},
		{Name: "Wheat flour", Quantity: 2, Unit: units.Kilogram},
		{Name: "Chicken eggs", Quantity: 10, Unit: units.Piece},
		{Name: "Chocolate bar", Quantity: 1, Unit: units.Piece},
		{Name: "Wheat flour", Quantity: 1, Unit: units.Liter},
	}, testProducts())

	tests := []struct {
		name        string
		productID   string
		needsReview bool
	}{
		{"english name", "milk", false},
		{"weight", "flour", false},
		{"pieces with packaging", "eggs", false},
		{"unknown product", "", true},
		{"unit of another class", "flour", true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lines[i]
			if got.ProductID != tt.productID || got.NeedsReview != tt.needsReview {
				t.Errorf("got product %q review %v (%s), want %q review %v",
					got.ProductID, got.NeedsReview, got.Issue, tt.productID, tt.needsReview)
			}
		})
	}
	if lines[3].Score >= MatchThreshold || lines[3].Issue != "no matching product" {
		t.Errorf("unexpected unmatched line %+v", lines[3])
	}
}

func TestVerify(t *testing.T) {
	lines := Verify([]Line{
		{Name: "Milk", ProductID: "milk", Quantity: 1, Unit: units.Liter, NeedsReview: true, Issue: "no matching product"},
		{Name: "Flour", ProductID: "flour", Quantity: 1, Unit: units.Liter},
		{Name: "Sugar", ProductID: "sugar", Quantity: 1, Unit: units.Kilogram},
		{Name: "Eggs", Quantity: 10, Unit: units.Piece},
		{Name: "Eggs", ProductID: "eggs", Quantity: 10, RawUnit: "box"},
	}, testProducts())

	if !lines[0].Bookable() || lines[0].ProductName != "Молоко пастеризоване" {
		t.Errorf("a reviewed line must become bookable, got %+v", lines[0])
	}
	for i, want := range map[int]string{
		1: "cannot convert l to g",
		2: "unknown product sugar",
		3: "no product selected",
		4: "unsupported unit box",
	} {
		if lines[i].Bookable() || lines[i].Issue != want {
			t.Errorf("line %d: got issue %q, want %q", i, lines[i].Issue, want)
		}
	}
}

func TestRequests(t *testing.T) {
	lines := []Line{
		{ProductID: "milk", Quantity: 2, Unit: units.Liter, Price: decimal.RequireFromString("80")},
		{ProductID: "", Quantity: 1, Unit: units.Piece, NeedsReview: true},
		{ProductID: "flour", Quantity: 1, Unit: "", RawUnit: "bag", NeedsReview: true},
		{ProductID: "eggs", Quantity: 0, Unit: units.Piece},
	}

	reqs, skipped := Requests("fam", lines)
	if len(reqs) != 1 || skipped != 3 {
		t.Fatalf("expected 1 request and 3 skipped, got %d and %d", len(reqs), skipped)
	}
	req := reqs[0]
	if req.FamilyID != "fam" || req.ProductID != "milk" || !req.DeductFromBudget {
		t.Errorf("unexpected request %+v", req)
	}
	if req.ActualPrice == nil || !req.ActualPrice.Equal(decimal.RequireFromString("80")) {
		t.Errorf("expected price 80, got %v", req.ActualPrice)
	}
}
