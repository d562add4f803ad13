// Package household models a family, its members and the weekly budget ledger.
package household

import (
	"strings"
	"time"

	"family-meal-planner/internal/shared"

	"github.com/shopspring/decimal"
)

// MealType is a slot in a member's day.
type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Snack     MealType = "snack"
	Dinner    MealType = "dinner"
)

// AllMealTypes lists every meal type in the order they occur in a day.
var AllMealTypes = []MealType{Breakfast, Lunch, Snack, Dinner}

// Valid reports whether m is a known meal type.
func (m MealType) Valid() bool {
	switch m {
	case Breakfast, Lunch, Snack, Dinner:
		return true
	}
	return false
}

// ParseMealType accepts a meal type name case-insensitively.
func ParseMealType(s string) (MealType, error) {
	m := MealType(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", shared.Invalid("unknown meal type %q", s)
	}
	return m, nil
}

// Goal is a member's dietary goal passed to plan generation.
type Goal string

const (
	GoalNone           Goal = ""
	GoalWeightLoss     Goal = "weight_loss"
	GoalWeightGain     Goal = "weight_gain"
	GoalHealthyEating  Goal = "healthy_eating"
	GoalMaintainWeight Goal = "maintain_weight"
)

// Valid reports whether g is a known goal or unset.
func (g Goal) Valid() bool {
	switch g {
	case GoalNone, GoalWeightLoss, GoalWeightGain, GoalHealthyEating, GoalMaintainWeight:
		return true
	}
	return false
}

// Member is a person fed by the household's plan. Unregistered members
// without configured meal times get no generated meals.
type Member struct {
	ID             string
	FamilyID       string
	Name           string
	IsRegistered   bool
	MealTimes      []MealType
	Allergies      []string
	Goal           Goal
	TelegramUserID int64
	CreatedAt      time.Time
}

// RequiredMealTypes returns the meal slots this member must receive each day:
// the configured meal times when any are set, all four for registered members,
// otherwise none.
func (m Member) RequiredMealTypes() []MealType {
	var configured []MealType
	seen := make(map[MealType]struct{}, len(m.MealTimes))
	for _, t := range m.MealTimes {
		if !t.Valid() {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		configured = append(configured, t)
	}

	switch {
	case len(configured) > 0:
		return configured
	case m.IsRegistered:
		return append([]MealType(nil), AllMealTypes...)
	default:
		return nil
	}
}

// Family owns members, the pantry, plans and the budget ledger.
type Family struct {
	ID   string
	Name string
	// WeeklyBudget is nil when the budget is unlimited.
	WeeklyBudget *decimal.Decimal
	BudgetUsed   decimal.Decimal
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Members      []Member
	CreatedAt    time.Time
}

// Member returns the member with the given id.
func (f *Family) Member(id string) (Member, bool) {
	for _, m := range f.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}
