// Package inventory tracks a household's pantry as stock lots and allocates
// consumption across them earliest-expiry first.
package inventory

import (
	"fmt"
	"sort"
	"time"

	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"
)

// epsilon absorbs floating point residue left by unit conversions.
const epsilon = 1e-9

// Lot is one batch of a product in the pantry.
type Lot struct {
	ID        string
	FamilyID  string
	ProductID string
	Quantity  float64
	Unit      units.Unit
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Demand is one line of consumption to deduct.
type Demand struct {
	ProductID string
	Quantity  float64
	Unit      units.Unit
}

// Deduction is the complete write set produced by PlanDeduction.
type Deduction struct {
	Updated []Lot
	Deleted []string
}

// Empty reports whether the deduction touches no lots.
func (d Deduction) Empty() bool {
	return len(d.Updated) == 0 && len(d.Deleted) == 0
}

// InsufficientError names the demand line that could not be covered.
type InsufficientError struct {
	ProductID string
	Unit      units.Unit
	Requested float64
	Available float64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("not enough %s in inventory: need %g %s, have %g %s",
		e.ProductID, e.Requested, e.Unit, e.Available, e.Unit)
}

func (e *InsufficientError) Unwrap() error {
	return shared.ErrInsufficientInventory
}

// SortFEFO orders lots by expiry ascending with undated lots last, then by
// creation time. Lots with equal keys keep their relative order.
func SortFEFO(lots []Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// PlanDeduction allocates every demand line across the lots of its product
// in FEFO order and returns the resulting write set. It fails without
// producing any writes when a line cannot be fully covered or a lot cannot be
// expressed in the demand's unit. The input slice is not modified.
func PlanDeduction(lots []Lot, demand []Demand, packagings map[string]units.Packaging) (Deduction, error) {
	byProduct := make(map[string][]*Lot)
	working := make([]Lot, len(lots))
	copy(working, lots)
	SortFEFO(working)
	for i := range working {
		l := &working[i]
		byProduct[l.ProductID] = append(byProduct[l.ProductID], l)
	}

	touched := make(map[string]*Lot)
	var order []string

	for _, d := range demand {
		if d.Quantity <= 0 {
			continue
		}
		packaging, ok := packagings[d.ProductID]
		if !ok {
			return Deduction{}, shared.NotFound("product %s", d.ProductID)
		}

		remaining := d.Quantity
		for _, lot := range byProduct[d.ProductID] {
			if remaining <= epsilon {
				break
			}
			if lot.Quantity <= epsilon {
				continue
			}

			available, err := units.Convert(lot.Quantity, lot.Unit, d.Unit, packaging)
			if err != nil {
				return Deduction{}, fmt.Errorf("lot %s of product %s: %w", lot.ID, d.ProductID, err)
			}
			take := min(available, remaining)
			takeNative, err := units.Convert(take, d.Unit, lot.Unit, packaging)
			if err != nil {
				return Deduction{}, fmt.Errorf("lot %s of product %s: %w", lot.ID, d.ProductID, err)
			}

			lot.Quantity -= takeNative
			remaining -= take
			if _, seen := touched[lot.ID]; !seen {
				touched[lot.ID] = lot
				order = append(order, lot.ID)
			}
		}

		if remaining > epsilon {
			return Deduction{}, &InsufficientError{
				ProductID: d.ProductID,
				Unit:      d.Unit,
				Requested: d.Quantity,
				Available: d.Quantity - remaining,
			}
		}
	}

	var result Deduction
	for _, id := range order {
		lot := touched[id]
		if lot.Quantity <= epsilon {
			result.Deleted = append(result.Deleted, id)
			continue
		}
		result.Updated = append(result.Updated, *lot)
	}
	return result, nil
}

// Merge adds quantity of unit into lot, converting into the lot's unit.
func Merge(lot Lot, quantity float64, unit units.Unit, packaging units.Packaging) (Lot, error) {
	converted, err := units.Convert(quantity, unit, lot.Unit, packaging)
	if err != nil {
		return Lot{}, err
	}
	lot.Quantity += converted
	return lot, nil
}
