package planner

import (
	"fmt"
	"math"
	"strings"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"
)

// Violation is one broken rule in generated content, located as precisely as
// the rule allows. Day is zero for week-level violations.
type Violation struct {
	Day      int
	MemberID string
	MealType string
	Field    string
	Message  string
}

func (v Violation) String() string {
	var where []string
	if v.Day > 0 {
		where = append(where, fmt.Sprintf("day %d", v.Day))
	}
	if v.MemberID != "" {
		where = append(where, "member "+v.MemberID)
	}
	if v.MealType != "" {
		where = append(where, v.MealType)
	}
	if v.Field != "" {
		where = append(where, v.Field)
	}
	if len(where) == 0 {
		return v.Message
	}
	return strings.Join(where, ", ") + ": " + v.Message
}

// ValidationError rejects generated content as a whole.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("generated plan rejected (%d violations): %s", len(e.Violations), strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error {
	return shared.ErrValidation
}

// Reject returns a ValidationError for a non-empty violation list, nil otherwise.
func Reject(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// Slot is a (member, meal type) pair that must be served every day.
type Slot struct {
	MemberID string
	MealType household.MealType
}

// ExpectedMeals returns the slots every plan day must cover, in member order.
func ExpectedMeals(members []household.Member) []Slot {
	var slots []Slot
	for _, m := range members {
		for _, t := range m.RequiredMealTypes() {
			slots = append(slots, Slot{MemberID: m.ID, MealType: t})
		}
	}
	return slots
}

// ValidateWeek checks a full-week candidate: exactly days 1-7, and every day
// per ValidateDay.
func ValidateWeek(week CandidateWeek, members []household.Member, products map[string]catalog.Product) []Violation {
	var violations []Violation
	if len(week.Days) != 7 {
		violations = append(violations, Violation{Field: "days", Message: fmt.Sprintf("expected 7 days, got %d", len(week.Days))})
	}

	seen := make(map[int]bool, 7)
	for _, d := range week.Days {
		switch {
		case d.DayNumber < 1 || d.DayNumber > 7:
			violations = append(violations, Violation{Field: "dayNumber", Message: fmt.Sprintf("day number %d is outside 1-7", d.DayNumber)})
		case seen[d.DayNumber]:
			violations = append(violations, Violation{Day: d.DayNumber, Message: "day appears more than once"})
		default:
			seen[d.DayNumber] = true
			violations = append(violations, ValidateDay(d, d.DayNumber, members, products)...)
		}
	}
	for n := 1; n <= 7; n++ {
		if !seen[n] {
			violations = append(violations, Violation{Day: n, Message: "day is missing"})
		}
	}
	return violations
}

// ValidateDay checks that a day serves every expected slot exactly once, with
// no extra meals, and that each meal carries a valid recipe.
func ValidateDay(day CandidateDay, dayNumber int, members []household.Member, products map[string]catalog.Product) []Violation {
	expected := ExpectedMeals(members)
	want := make(map[Slot]bool, len(expected))
	for _, s := range expected {
		want[s] = true
	}
	known := make(map[string]bool, len(members))
	for _, m := range members {
		known[m.ID] = true
	}

	var violations []Violation
	got := make(map[Slot]int, len(day.Meals))
	for _, m := range day.Meals {
		v := Violation{Day: dayNumber, MemberID: m.FamilyMemberID, MealType: m.MealType}
		mealType, err := household.ParseMealType(m.MealType)
		if err != nil {
			v.Field, v.Message = "mealType", "unknown meal type"
			violations = append(violations, v)
			continue
		}
		v.MealType = string(mealType)
		if !known[m.FamilyMemberID] {
			v.Field, v.Message = "familyMemberId", "unknown family member"
			violations = append(violations, v)
			continue
		}

		slot := Slot{MemberID: m.FamilyMemberID, MealType: mealType}
		got[slot]++
		switch {
		case !want[slot]:
			v.Message = "meal is not expected for this member"
		case got[slot] > 1:
			v.Message = "meal appears more than once"
		case m.Recipe == nil:
			v.Field, v.Message = "recipe", "recipe is missing"
		default:
			violations = append(violations, ValidateRecipe(m.Recipe, dayNumber, m.FamilyMemberID, string(mealType), products)...)
			continue
		}
		violations = append(violations, v)
	}

	for _, s := range expected {
		if got[s] == 0 {
			violations = append(violations, Violation{Day: dayNumber, MemberID: s.MemberID, MealType: string(s.MealType), Message: "meal is missing"})
		}
	}
	if len(day.Meals) != len(expected) {
		violations = append(violations, Violation{Day: dayNumber, Field: "meals",
			Message: fmt.Sprintf("expected %d meals, got %d", len(expected), len(day.Meals))})
	}
	return violations
}

// ValidateMeal checks a single-meal regeneration. A nil recipe clears the meal
// and is accepted.
func ValidateMeal(recipe *CandidateRecipe, dayNumber int, memberID string, mealType household.MealType, products map[string]catalog.Product) []Violation {
	if recipe == nil {
		return nil
	}
	return ValidateRecipe(recipe, dayNumber, memberID, string(mealType), products)
}

// ValidateRecipe checks a recipe's name, ingredient lines against the catalog
// and its instruction list.
func ValidateRecipe(r *CandidateRecipe, dayNumber int, memberID, mealType string, products map[string]catalog.Product) []Violation {
	var violations []Violation
	add := func(field, format string, args ...any) {
		violations = append(violations, Violation{
			Day: dayNumber, MemberID: memberID, MealType: mealType,
			Field: field, Message: fmt.Sprintf(format, args...),
		})
	}

	if strings.TrimSpace(r.Name) == "" {
		add("recipe.name", "recipe name is empty")
	}
	if len(r.Ingredients) == 0 {
		add("recipe.ingredients", "recipe has no ingredients")
	}
	for i, ing := range r.Ingredients {
		field := fmt.Sprintf("recipe.ingredients[%d]", i)
		if _, ok := products[ing.ProductID]; !ok {
			add(field, "product %q is not in the catalog", ing.ProductID)
		}
		if ing.Quantity <= 0 || math.IsNaN(ing.Quantity) || math.IsInf(ing.Quantity, 0) {
			add(field, "quantity must be positive, got %g", ing.Quantity)
		}
		if _, err := units.Parse(ing.Unit); err != nil {
			add(field, "unsupported unit %q", ing.Unit)
		}
	}

	steps, ok := instructionSteps(r.Instructions)
	if !ok {
		add("recipe.instructions", "instructions must be a list of strings")
		return violations
	}
	nonEmpty := 0
	for _, s := range steps {
		if strings.TrimSpace(s) != "" {
			nonEmpty++
		}
	}
	if nonEmpty < 3 {
		add("recipe.instructions", "need at least 3 non-empty steps, got %d", nonEmpty)
	}
	return violations
}
