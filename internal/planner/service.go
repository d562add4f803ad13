package planner

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/shared"
)

// Service accepts generated plans and drives the meal status state machine.
type Service struct {
	db         *database.DB
	plans      *PlanRepository
	products   *catalog.Repository
	households *household.Repository
	ledger     *inventory.Ledger
	generator  *Generator
	now        func() time.Time
}

// NewService creates a planner Service.
func NewService(
	db *database.DB,
	plans *PlanRepository,
	products *catalog.Repository,
	households *household.Repository,
	ledger *inventory.Ledger,
	generator *Generator,
) *Service {
	return &Service{
		db:         db,
		plans:      plans,
		products:   products,
		households: households,
		ledger:     ledger,
		generator:  generator,
		now:        time.Now,
	}
}

type generationContext struct {
	family   *household.Family
	products []catalog.Product
	index    map[string]catalog.Product
}

func (s *Service) loadContext(ctx context.Context, familyID string) (*generationContext, error) {
	family, err := s.households.Get(ctx, familyID)
	if err != nil {
		return nil, err
	}
	products, err := s.products.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, shared.Invalid("catalog has no active products")
	}
	return &generationContext{family: family, products: products, index: catalog.Index(products)}, nil
}

func (g *generationContext) request(weekStart, weekEnd time.Time, reason string) GenerationRequest {
	return GenerationRequest{
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
		Budget:    g.family.WeeklyBudget,
		Members:   g.family.Members,
		Products:  g.products,
		Reason:    reason,
	}
}

// GeneratePlan generates, validates and stores a plan for the current week,
// replacing the family's active plan.
func (s *Service) GeneratePlan(ctx context.Context, familyID, reason string) (*MealPlan, shared.AgentMeta, error) {
	gc, err := s.loadContext(ctx, familyID)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}
	weekStart, weekEnd := household.WeekPeriod(s.now())

	week, meta, err := s.generator.GenerateWeek(ctx, gc.request(weekStart, weekEnd, reason))
	if err != nil {
		return nil, meta, err
	}
	if err := s.reject(familyID, ValidateWeek(week, gc.family.Members, gc.index)); err != nil {
		return nil, meta, err
	}

	plan := &MealPlan{
		FamilyID:  familyID,
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
		Days:      buildDays(week, weekStart),
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		plans := s.plans.WithTx(tx)
		if err := plans.DeactivateActive(ctx, familyID); err != nil {
			return err
		}
		return plans.Insert(ctx, plan)
	})
	if err != nil {
		return nil, meta, err
	}

	slog.Info("meal plan accepted", "family_id", familyID, "plan_id", plan.ID, "week_start", weekStart.Format(time.DateOnly))
	return plan, meta, nil
}

// RegeneratePlan replaces every day of an existing plan with newly generated ones.
func (s *Service) RegeneratePlan(ctx context.Context, familyID, planID, reason string) (*MealPlan, shared.AgentMeta, error) {
	plan, err := s.GetPlan(ctx, familyID, planID)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}
	gc, err := s.loadContext(ctx, familyID)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}

	week, meta, err := s.generator.GenerateWeek(ctx, gc.request(plan.WeekStart, plan.WeekEnd, reason))
	if err != nil {
		return nil, meta, err
	}
	if err := s.reject(familyID, ValidateWeek(week, gc.family.Members, gc.index)); err != nil {
		return nil, meta, err
	}

	plan.Days = buildDays(week, plan.WeekStart)
	if err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		return s.plans.WithTx(tx).ReplaceDays(ctx, plan)
	}); err != nil {
		return nil, meta, err
	}

	slog.Info("meal plan regenerated", "family_id", familyID, "plan_id", plan.ID)
	return plan, meta, nil
}

// RegenerateDay replaces the meals of one plan day.
func (s *Service) RegenerateDay(ctx context.Context, familyID, planID string, dayNumber int, reason string) (*MealPlan, shared.AgentMeta, error) {
	plan, err := s.GetPlan(ctx, familyID, planID)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}
	day, ok := plan.Day(dayNumber)
	if !ok {
		return nil, shared.AgentMeta{}, shared.NotFound("day %d of plan %s", dayNumber, planID)
	}
	gc, err := s.loadContext(ctx, familyID)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}

	candidate, meta, err := s.generator.GenerateDay(ctx, gc.request(plan.WeekStart, plan.WeekEnd, reason), day.DayNumber, day.Date)
	if err != nil {
		return nil, meta, err
	}
	if err := s.reject(familyID, ValidateDay(candidate, day.DayNumber, gc.family.Members, gc.index)); err != nil {
		return nil, meta, err
	}

	day.Meals = candidate.toMeals(day.Date)
	if err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		return s.plans.WithTx(tx).ReplaceMeals(ctx, day.ID, day.Meals)
	}); err != nil {
		return nil, meta, err
	}

	slog.Info("plan day regenerated", "family_id", familyID, "plan_id", plan.ID, "day", day.DayNumber)
	return plan, meta, nil
}

// RegenerateMeal replaces the recipe of one meal. The generator may return no
// recipe, which clears the meal.
func (s *Service) RegenerateMeal(ctx context.Context, familyID, mealID, reason string) (*MealPlan, shared.AgentMeta, error) {
	ref, err := s.ownedMeal(ctx, s.plans, familyID, mealID)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}
	plan, err := s.plans.Get(ctx, ref.PlanID)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}
	gc, err := s.loadContext(ctx, familyID)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}

	recipe, meta, err := s.generator.GenerateMeal(ctx, gc.request(plan.WeekStart, plan.WeekEnd, reason),
		ref.DayNumber, ref.Date, ref.Meal.FamilyMemberID, ref.Meal.MealType)
	if err != nil {
		return nil, meta, err
	}
	if err := s.reject(familyID, ValidateMeal(recipe, ref.DayNumber, ref.Meal.FamilyMemberID, ref.Meal.MealType, gc.index)); err != nil {
		return nil, meta, err
	}

	if err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		return s.plans.WithTx(tx).ReplaceRecipe(ctx, mealID, recipe.toRecipe())
	}); err != nil {
		return nil, meta, err
	}

	slog.Info("meal regenerated", "family_id", familyID, "meal_id", mealID, "cleared", recipe == nil)
	plan, err = s.plans.Get(ctx, ref.PlanID)
	return plan, meta, err
}

// CurrentPlan returns the family's active plan.
func (s *Service) CurrentPlan(ctx context.Context, familyID string) (*MealPlan, error) {
	return s.plans.Active(ctx, familyID)
}

// GetPlan returns a plan owned by the family.
func (s *Service) GetPlan(ctx context.Context, familyID, planID string) (*MealPlan, error) {
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.FamilyID != familyID {
		return nil, shared.Forbidden("meal plan %s belongs to another household", planID)
	}
	return plan, nil
}

// UpdateMealStatus moves a meal to status. Completing a meal deducts its
// ingredients from the pantry in the same transaction; when the pantry cannot
// cover them the status is left unchanged.
func (s *Service) UpdateMealStatus(ctx context.Context, familyID, mealID string, status MealStatus) (*Meal, error) {
	var meal Meal
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		plans := s.plans.WithTx(tx)
		ref, err := s.ownedMeal(ctx, plans, familyID, mealID)
		if err != nil {
			return err
		}

		tr, err := PlanTransition(ref.Meal, status, s.now())
		if err != nil {
			return err
		}
		meal = ref.Meal
		if tr.NoOp {
			return nil
		}
		if tr.Deduct {
			if err := s.ledger.DeductTx(ctx, tx, familyID, meal.Recipe.Demand()); err != nil {
				return err
			}
		}
		if err := plans.UpdateMealStatus(ctx, mealID, tr.Status, tr.CompletedAt); err != nil {
			return err
		}
		meal.Status, meal.CompletedAt = tr.Status, tr.CompletedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("meal status updated", "family_id", familyID, "meal_id", mealID, "status", meal.Status)
	return &meal, nil
}

// AutoSkipOverdue marks pending meals scheduled more than grace ago as
// auto-skipped and returns how many changed.
func (s *Service) AutoSkipOverdue(ctx context.Context, familyID string, grace time.Duration) (int64, error) {
	if grace < 0 {
		return 0, shared.Invalid("grace period must not be negative")
	}
	var n int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.plans.WithTx(tx).SkipOverdue(ctx, familyID, s.now().Add(-grace))
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("overdue meals auto-skipped", "family_id", familyID, "count", n)
	}
	return n, nil
}

func (s *Service) ownedMeal(ctx context.Context, plans *PlanRepository, familyID, mealID string) (*MealRef, error) {
	ref, err := plans.GetMeal(ctx, mealID)
	if err != nil {
		return nil, err
	}
	if ref.FamilyID != familyID {
		return nil, shared.Forbidden("meal %s belongs to another household", mealID)
	}
	return ref, nil
}

func (s *Service) reject(familyID string, violations []Violation) error {
	err := Reject(violations)
	if err != nil {
		slog.Warn("generated content rejected", "family_id", familyID, "violations", len(violations))
	}
	return err
}

func buildDays(week CandidateWeek, weekStart time.Time) []Day {
	days := make([]Day, 0, len(week.Days))
	for n := 1; n <= 7; n++ {
		for _, cd := range week.Days {
			if cd.DayNumber != n {
				continue
			}
			date := DayDate(weekStart, n)
			days = append(days, Day{DayNumber: n, Date: date, Meals: cd.toMeals(date)})
			break
		}
	}
	return days
}
