package planner

import (
	"time"

	"family-meal-planner/internal/shared"
)

// Transition is the write set of a meal status change.
type Transition struct {
	Status      MealStatus
	CompletedAt *time.Time
	// Deduct is set when the meal enters completed and its recipe
	// ingredients must leave the pantry in the same transaction.
	Deduct bool
	// NoOp is set when nothing needs to be written.
	NoOp bool
}

// PlanTransition computes the effect of moving meal to target at now.
//
// Entering completed stamps CompletedAt and requests a deduction; asserting
// completed again keeps the original stamp and deducts nothing. Leaving
// completed clears CompletedAt and does not restock the pantry.
func PlanTransition(meal Meal, target MealStatus, now time.Time) (Transition, error) {
	if !target.Valid() {
		return Transition{}, shared.Invalid("unknown meal status %q", target)
	}

	if meal.Status == target {
		return Transition{Status: target, CompletedAt: meal.CompletedAt, NoOp: true}, nil
	}

	if target == StatusCompleted {
		at := now.UTC()
		return Transition{
			Status:      target,
			CompletedAt: &at,
			Deduct:      meal.Recipe != nil && len(meal.Recipe.Ingredients) > 0,
		}, nil
	}
	return Transition{Status: target}, nil
}
