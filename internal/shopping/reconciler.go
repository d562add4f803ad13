package shopping

import (
	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

const epsilon = 1e-9

// Requirement is the total demand for a product in one unit.
type Requirement struct {
	ProductID string
	Quantity  float64
	Unit      units.Unit
}

// Line is a priced shortfall.
type Line struct {
	ProductID      string
	Quantity       float64
	Unit           units.Unit
	EstimatedPrice decimal.Decimal
}

type requirementKey struct {
	productID string
	unit      units.Unit
}

// Aggregate sums ingredient quantities per product, normalised to the
// product's base unit. Lines that cannot be converted keep their own unit and
// are summed separately. Requirements keep first-appearance order.
func Aggregate(ingredients []planner.Ingredient, products map[string]catalog.Product) ([]Requirement, error) {
	index := make(map[requirementKey]int)
	var out []Requirement
	for _, ing := range ingredients {
		p, ok := products[ing.ProductID]
		if !ok {
			return nil, shared.NotFound("product %s", ing.ProductID)
		}

		qty, unit := ing.Quantity, ing.Unit
		if converted, err := units.Convert(ing.Quantity, ing.Unit, p.BaseUnit, p.Packaging()); err == nil {
			qty, unit = converted, p.BaseUnit
		}

		key := requirementKey{productID: p.ID, unit: unit}
		if i, ok := index[key]; ok {
			out[i].Quantity += qty
			continue
		}
		index[key] = len(out)
		out = append(out, Requirement{ProductID: p.ID, Quantity: qty, Unit: unit})
	}
	return out, nil
}

// Reconcile subtracts on-hand stock from each requirement and prices what is
// left. Lots that cannot be expressed in a requirement's unit do not count
// towards it. Requirements covered by stock are dropped.
func Reconcile(requirements []Requirement, lots []inventory.Lot, products map[string]catalog.Product) []Line {
	var lines []Line
	for _, req := range requirements {
		p := products[req.ProductID]

		available := 0.0
		for _, lot := range lots {
			if lot.ProductID != req.ProductID {
				continue
			}
			if q, err := units.Convert(lot.Quantity, lot.Unit, req.Unit, p.Packaging()); err == nil {
				available += q
			}
		}

		shortfall := req.Quantity - available
		if shortfall <= epsilon {
			continue
		}
		lines = append(lines, Line{
			ProductID:      req.ProductID,
			Quantity:       shortfall,
			Unit:           req.Unit,
			EstimatedPrice: EstimatePrice(shortfall, req.Unit, p),
		})
	}
	return lines
}

// EstimatePrice prices quantity of p. AveragePrice is per standard package
// when the product has one and quantity is in its non-piece base unit;
// otherwise it is a unit price.
func EstimatePrice(quantity float64, unit units.Unit, p catalog.Product) decimal.Decimal {
	if p.StandardPackaging != nil && *p.StandardPackaging > 0 && unit == p.BaseUnit && p.BaseUnit != units.Piece {
		packages := decimal.NewFromFloat(quantity / *p.StandardPackaging)
		return packages.Mul(p.AveragePrice).Round(2)
	}
	return decimal.NewFromFloat(quantity).Mul(p.AveragePrice).Round(2)
}

// Total sums the estimated prices of lines.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.EstimatedPrice)
	}
	return total
}
