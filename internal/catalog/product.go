// Package catalog holds the shared product catalog that recipes, pantry lots
// and shopping lists reference by id.
package catalog

import (
	"time"

	"family-meal-planner/internal/pricing"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

// Category groups products for display and prompt context.
type Category string

const (
	CategoryMeat       Category = "meat"
	CategoryPoultry    Category = "poultry"
	CategoryFish       Category = "fish"
	CategoryDairy      Category = "dairy"
	CategoryEggs       Category = "eggs"
	CategoryVegetables Category = "vegetables"
	CategoryFruits     Category = "fruits"
	CategoryGrains     Category = "grains"
	CategoryPasta      Category = "pasta"
	CategoryBakery     Category = "bakery"
	CategoryOils       Category = "oils"
	CategorySpices     Category = "spices"
	CategorySweets     Category = "sweets"
	CategoryBeverages  Category = "beverages"
	CategoryCanned     Category = "canned"
	CategoryFrozen     Category = "frozen"
	CategoryNuts       Category = "nuts"
	CategoryOther      Category = "other"
)

var categories = map[Category]struct{}{
	CategoryMeat: {}, CategoryPoultry: {}, CategoryFish: {}, CategoryDairy: {},
	CategoryEggs: {}, CategoryVegetables: {}, CategoryFruits: {}, CategoryGrains: {},
	CategoryPasta: {}, CategoryBakery: {}, CategoryOils: {}, CategorySpices: {},
	CategorySweets: {}, CategoryBeverages: {}, CategoryCanned: {}, CategoryFrozen: {},
	CategoryNuts: {}, CategoryOther: {},
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Nutrition per base unit as supplied by the catalog. Any field may be unknown.
type Nutrition struct {
	Calories *int     `json:"calories"`
	Protein  *float64 `json:"protein"`
	Fats     *float64 `json:"fats"`
	Carbs    *float64 `json:"carbs"`
}

// Product is a catalog entry. AveragePrice is always the median of the
// outlier-filtered PriceHistory and is never written on its own.
type Product struct {
	ID                string
	Name              string
	NameEn            string
	Category          Category
	BaseUnit          units.Unit
	StandardPackaging *float64
	AveragePrice      decimal.Decimal
	PriceHistory      pricing.History
	Nutrition         Nutrition
	Allergens         []string
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Packaging returns the conversion context for piece quantities of p.
func (p Product) Packaging() units.Packaging {
	return units.Packaging{BaseUnit: p.BaseUnit, StandardPackaging: p.StandardPackaging}
}

// Validate checks the fields a new catalog entry must carry.
func (p Product) Validate() error {
	if p.Name == "" {
		return shared.Invalid("product name is required")
	}
	if !p.Category.Valid() {
		return shared.Invalid("product %q has unknown category %q", p.Name, p.Category)
	}
	if !p.BaseUnit.Valid() {
		return shared.Invalid("product %q has unsupported base unit %q", p.Name, p.BaseUnit)
	}
	if p.StandardPackaging != nil && *p.StandardPackaging <= 0 {
		return shared.Invalid("product %q standard packaging must be positive", p.Name)
	}
	if p.AveragePrice.IsNegative() {
		return shared.Invalid("product %q price must not be negative", p.Name)
	}
	return nil
}

// Index maps products by id.
func Index(products []Product) map[string]Product {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}
