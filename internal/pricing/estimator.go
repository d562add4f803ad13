// Package pricing maintains a product's rolling price estimate from noisy,
// user-submitted observations.
package pricing

import (
	"sort"
	"time"

	"family-meal-planner/internal/shared"

	"github.com/shopspring/decimal"
)

// Sources used when recording observations.
const (
	SourceSystem   = "system"
	SourceShopping = "shopping_list"
	SourceStock    = "inventory"
	SourceManual   = "manual"
)

// outlierFactor bounds how far an observation may sit from the median,
// as a multiple of the median, before it is discarded.
var outlierFactor = decimal.NewFromInt(2)

// Observation is a single recorded price.
type Observation struct {
	Price      decimal.Decimal `json:"price"`
	Source     string          `json:"source"`
	ObservedAt time.Time       `json:"observedAt"`
}

// History is the ordered list of observations kept for a product.
type History []Observation

// Prices returns the observed prices in history order.
func (h History) Prices() []decimal.Decimal {
	prices := make([]decimal.Decimal, len(h))
	for i, o := range h {
		prices[i] = o.Price
	}
	return prices
}

// Median returns the median of prices; the mean of the two middle values for
// an even count and zero for an empty slice.
func Median(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// FilterOutliers drops observations deviating from the median by more than
// twice the median. A zero median disables filtering.
func FilterOutliers(h History) History {
	median := Median(h.Prices())
	filtered := make(History, 0, len(h))
	if median.IsZero() {
		return append(filtered, h...)
	}

	limit := median.Mul(outlierFactor)
	for _, o := range h {
		if o.Price.Sub(median).Abs().GreaterThan(limit) {
			continue
		}
		filtered = append(filtered, o)
	}
	return filtered
}

// Average is the rolling price derived from a history.
func Average(h History) decimal.Decimal {
	return Median(FilterOutliers(h).Prices())
}

// Record appends a new observation and returns the filtered history to persist
// together with the new average price. The input history is not modified.
func Record(h History, price decimal.Decimal, source string, at time.Time) (History, decimal.Decimal, error) {
	if price.IsNegative() {
		return nil, decimal.Zero, shared.Invalid("price must not be negative, got %s", price)
	}
	if source == "" {
		source = SourceManual
	}

	candidate := make(History, 0, len(h)+1)
	candidate = append(candidate, h...)
	candidate = append(candidate, Observation{Price: price, Source: source, ObservedAt: at.UTC()})

	filtered := FilterOutliers(candidate)
	return filtered, Median(filtered.Prices()), nil
}
