package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"family-meal-planner/internal/receipt"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

func TestReceiptFile(t *testing.T) {
	t.Run("WrittenLinesLoadBack", func(t *testing.T) {
		var buf bytes.Buffer
		err := writeReceipt(&buf, []receipt.Line{
			{Name: "Whole milk", ProductID: "milk", ProductName: "Milk", Quantity: 2, Unit: units.Liter, Price: decimal.RequireFromString("79.9")},
			{Name: "Flour", Quantity: 1, RawUnit: "bag", Price: decimal.RequireFromString("31.5"), NeedsReview: true, Issue: "unsupported unit bag"},
		})
		if err != nil {
			t.Fatalf("writeReceipt failed: %v", err)
		}
		if !strings.Contains(buf.String(), "review: unsupported unit bag") {
			t.Errorf("review note missing from\n%s", buf.String())
		}

		lines, err := loadReceipt(&buf)
		if err != nil {
			t.Fatalf("loadReceipt failed: %v", err)
		}
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(lines))
		}
		milk := lines[0]
		if milk.ProductID != "milk" || milk.Unit != units.Liter || !milk.Price.Equal(decimal.RequireFromString("79.9")) {
			t.Errorf("unexpected milk line %+v", milk)
		}
		if flour := lines[1]; flour.Unit != "" || flour.RawUnit != "bag" || flour.NeedsReview {
			t.Errorf("unexpected flour line %+v", flour)
		}
	})

	t.Run("InvalidPrice", func(t *testing.T) {
		_, err := loadReceipt(strings.NewReader("lines:\n  - name: a\n    price: free\n"))
		if !errors.Is(err, shared.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}
