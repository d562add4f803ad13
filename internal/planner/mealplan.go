package planner

import (
	"time"

	"family-meal-planner/internal/household"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"
)

// MealStatus is the lifecycle state of a single meal.
type MealStatus string

const (
	StatusPending     MealStatus = "pending"
	StatusCooking     MealStatus = "cooking"
	StatusCompleted   MealStatus = "completed"
	StatusSkipped     MealStatus = "skipped"
	StatusAutoSkipped MealStatus = "auto_skipped"
)

// Valid reports whether s is a known meal status.
func (s MealStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCooking, StatusCompleted, StatusSkipped, StatusAutoSkipped:
		return true
	}
	return false
}

// ParseMealStatus parses a status name.
func ParseMealStatus(s string) (MealStatus, error) {
	status := MealStatus(s)
	if !status.Valid() {
		return "", shared.Invalid("unknown meal status %q", s)
	}
	return status, nil
}

// mealHours is the fixed time of day each meal type is served.
var mealHours = map[household.MealType]int{
	household.Breakfast: 8,
	household.Lunch:     13,
	household.Snack:     16,
	household.Dinner:    19,
}

// ScheduledAt returns when a meal of type t is served on date.
func ScheduledAt(date time.Time, t household.MealType) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, mealHours[t], 0, 0, 0, date.Location())
}

// DayDate returns the date of dayNumber (1-7) in the week starting at weekStart.
func DayDate(weekStart time.Time, dayNumber int) time.Time {
	return weekStart.AddDate(0, 0, dayNumber-1)
}

// Ingredient is one product line of a recipe.
type Ingredient struct {
	ID        string
	ProductID string
	Quantity  float64
	Unit      units.Unit
}

// Recipe is the dish assigned to a meal.
type Recipe struct {
	ID           string
	Name         string
	NameEn       string
	Description  string
	CookingTime  int
	Servings     int
	Calories     int
	Protein      float64
	Fats         float64
	Carbs        float64
	Instructions []string
	ImageURL     string
	Ingredients  []Ingredient
}

// Demand returns the recipe's ingredients as an inventory demand.
func (r *Recipe) Demand() []inventory.Demand {
	if r == nil {
		return nil
	}
	demand := make([]inventory.Demand, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		demand = append(demand, inventory.Demand{ProductID: ing.ProductID, Quantity: ing.Quantity, Unit: ing.Unit})
	}
	return demand
}

// Meal is one member's meal of a given type on a plan day.
type Meal struct {
	ID             string
	DayID          string
	FamilyMemberID string
	MealType       household.MealType
	ScheduledAt    time.Time
	Status         MealStatus
	// CompletedAt is set exactly when Status is completed.
	CompletedAt *time.Time
	Recipe      *Recipe
}

// Day is one of the seven days of a plan.
type Day struct {
	ID        string
	PlanID    string
	DayNumber int
	Date      time.Time
	Meals     []Meal
}

// MealPlan is a household's plan for one week.
type MealPlan struct {
	ID        string
	FamilyID  string
	WeekStart time.Time
	WeekEnd   time.Time
	IsActive  bool
	CreatedAt time.Time
	Days      []Day
}

// Ingredients returns every recipe ingredient in the plan, in plan order.
func (p *MealPlan) Ingredients() []Ingredient {
	var out []Ingredient
	for _, d := range p.Days {
		for _, m := range d.Meals {
			if m.Recipe != nil {
				out = append(out, m.Recipe.Ingredients...)
			}
		}
	}
	return out
}

// Day returns the plan day with the given number.
func (p *MealPlan) Day(number int) (*Day, bool) {
	for i := range p.Days {
		if p.Days[i].DayNumber == number {
			return &p.Days[i], true
		}
	}
	return nil, false
}

// FindMeal returns the meal with the given id and the day holding it.
func (p *MealPlan) FindMeal(id string) (*Meal, *Day, bool) {
	for i := range p.Days {
		for j := range p.Days[i].Meals {
			if p.Days[i].Meals[j].ID == id {
				return &p.Days[i].Meals[j], &p.Days[i], true
			}
		}
	}
	return nil, nil, false
}
