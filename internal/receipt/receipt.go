// Package receipt turns a photographed shop receipt into pantry additions.
// Scanned lines are untrusted: each is matched against the catalog and
// flagged for review when it cannot be booked as is.
package receipt

import (
	"strings"
	"unicode"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

// MatchThreshold is the lowest name similarity that links a line to a product.
const MatchThreshold = 0.55

// Line is one purchased product read from a receipt.
type Line struct {
	Name     string
	Quantity float64
	// RawUnit is the unit as read; Unit is empty when it is not supported.
	RawUnit string
	Unit    units.Unit
	Price   decimal.Decimal

	ProductID   string
	ProductName string
	Score       float64
	NeedsReview bool
	Issue       string
}

// Bookable reports whether the line can become a pantry addition as is.
func (l Line) Bookable() bool {
	return !l.NeedsReview && l.ProductID != "" && l.Unit.Valid() && l.Quantity > 0 && !l.Price.IsNegative()
}

func (l *Line) flag(issue string) {
	l.NeedsReview = true
	if l.Issue == "" {
		l.Issue = issue
	}
}

// Match links each line to its closest active product by name and flags the
// lines a person has to look at before they are booked.
func Match(lines []Line, products []catalog.Product) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		product, score, ok := BestMatch(l.Name, products)
		l.Score = score
		if !ok || score < MatchThreshold {
			l.flag("no matching product")
			out[i] = l
			continue
		}
		l.ProductID = product.ID
		out[i] = check(l, product)
	}
	return out
}

// Verify re-checks reviewed lines against the catalog before they are booked.
// Lines keep their product id; the product must exist and accept the unit.
func Verify(lines []Line, products []catalog.Product) []Line {
	index := catalog.Index(products)
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.NeedsReview, l.Issue = false, ""
		product, ok := index[l.ProductID]
		switch {
		case l.ProductID == "":
			l.flag("no product selected")
		case !ok:
			l.flag("unknown product " + l.ProductID)
		default:
			l = check(l, product)
		}
		if l.Quantity <= 0 {
			l.flag("quantity must be positive")
		}
		if !l.Unit.Valid() {
			l.flag("unsupported unit " + l.RawUnit)
		}
		if l.Price.IsNegative() {
			l.flag("price must not be negative")
		}
		out[i] = l
	}
	return out
}

func check(l Line, product catalog.Product) Line {
	l.ProductName = product.Name
	if l.Unit != "" && !units.CanConvert(l.Unit, product.BaseUnit, product.Packaging()) {
		l.flag("cannot convert " + string(l.Unit) + " to " + string(product.BaseUnit))
	}
	return l
}

// BestMatch returns the product whose name or English name is most similar to name.
func BestMatch(name string, products []catalog.Product) (catalog.Product, float64, bool) {
	query := Normalize(name)
	if query == "" {
		return catalog.Product{}, 0, false
	}

	var best catalog.Product
	bestScore, found := -1.0, false
	for _, p := range products {
		score := Similarity(query, Normalize(p.Name))
		if p.NameEn != "" {
			score = max(score, Similarity(query, Normalize(p.NameEn)))
		}
		if score > bestScore {
			best, bestScore, found = p, score, true
		}
	}
	if !found {
		return catalog.Product{}, 0, false
	}
	return best, bestScore, true
}

// Normalize lower-cases s and collapses everything but letters and digits to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}), " ")
}

// Similarity is the Jaccard index of the word sets of two normalized names.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	aWords, bWords := wordSet(a), wordSet(b)
	common := 0
	for w := range aWords {
		if _, ok := bWords[w]; ok {
			common++
		}
	}
	union := len(aWords) + len(bWords) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

// Requests builds budget-debiting pantry additions for the bookable lines and
// returns how many lines were left out.
func Requests(familyID string, lines []Line) ([]inventory.AddStockRequest, int) {
	reqs := make([]inventory.AddStockRequest, 0, len(lines))
	skipped := 0
	for _, l := range lines {
		if !l.Bookable() {
			skipped++
			continue
		}
		price := l.Price
		reqs = append(reqs, inventory.AddStockRequest{
			FamilyID:         familyID,
			ProductID:        l.ProductID,
			Quantity:         l.Quantity,
			Unit:             l.Unit,
			ActualPrice:      &price,
			DeductFromBudget: true,
		})
	}
	return reqs, skipped
}
