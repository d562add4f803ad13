package shopping

import (
	"time"

	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

// ListStatus is the lifecycle state of a shopping list.
type ListStatus string

const (
	StatusPending    ListStatus = "pending"
	StatusInProgress ListStatus = "in_progress"
	StatusCompleted  ListStatus = "completed"
)

// Item is one product to buy, net of what the pantry already holds.
type Item struct {
	ID             string
	ListID         string
	ProductID      string
	Quantity       float64
	Unit           units.Unit
	EstimatedPrice decimal.Decimal
	ActualPrice    *decimal.Decimal
	ActualQuantity *float64
	IsPurchased    bool
	Position       int
}

// List is a household's shopping list derived from a meal plan. A household
// has at most one list that is not completed.
type List struct {
	ID       string
	FamilyID string
	// PlanID is empty once the source plan has been deleted.
	PlanID     string
	Status     ListStatus
	TotalPrice decimal.Decimal
	CreatedAt  time.Time
	Items      []Item
}

// Item returns the list item with the given id.
func (l *List) Item(id string) (*Item, bool) {
	for i := range l.Items {
		if l.Items[i].ID == id {
			return &l.Items[i], true
		}
	}
	return nil, false
}
