package planner

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

type plannerFixture struct {
	svc    *Service
	mock   *MockTextGenerator
	ledger *inventory.Ledger
	family *household.Family
	member *household.Member
	oats   *catalog.Product
}

func setupService(t *testing.T) *plannerFixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "planner.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	products := catalog.NewRepository(db.SQL)
	households := household.NewRepository(db.SQL)
	ledger := inventory.NewLedger(db, inventory.NewRepository(db.SQL), products, households)

	pkg := 1000.0
	oats := &catalog.Product{
		Name: "Oats", Category: catalog.CategoryGrains, BaseUnit: units.Gram,
		StandardPackaging: &pkg, AveragePrice: decimal.RequireFromString("60"),
	}
	if err := products.Create(ctx, oats); err != nil {
		t.Fatalf("Create product failed: %v", err)
	}

	family := &household.Family{Name: "Test"}
	if err := households.CreateFamily(ctx, family); err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	member := &household.Member{FamilyID: family.ID, Name: "Kid", MealTimes: []household.MealType{household.Breakfast}}
	if err := households.AddMember(ctx, member); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	mock := &MockTextGenerator{}
	svc := NewService(db, NewPlanRepository(db.SQL), products, households, ledger, NewGenerator(mock))
	return &plannerFixture{svc: svc, mock: mock, ledger: ledger, family: family, member: member, oats: oats}
}

func (f *plannerFixture) weekJSON(t *testing.T, days int) string {
	t.Helper()
	week := CandidateWeek{}
	for n := 1; n <= days; n++ {
		week.Days = append(week.Days, CandidateDay{DayNumber: n, Meals: []CandidateMeal{{
			FamilyMemberID: f.member.ID,
			MealType:       "breakfast",
			Recipe:         candidateRecipe(f.oats.ID),
		}}})
	}
	b, err := json.Marshal(weekResponse{Menu: &week})
	if err != nil {
		t.Fatalf("marshal week failed: %v", err)
	}
	return string(b)
}

func (f *plannerFixture) generate(t *testing.T) *MealPlan {
	t.Helper()
	f.mock.responses = []string{f.weekJSON(t, 7)}
	plan, _, err := f.svc.GeneratePlan(context.Background(), f.family.ID, "")
	if err != nil {
		t.Fatalf("GeneratePlan failed: %v", err)
	}
	return plan
}

func TestGeneratePlan(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)

	first := f.generate(t)
	current, err := f.svc.CurrentPlan(ctx, f.family.ID)
	if err != nil {
		t.Fatalf("CurrentPlan failed: %v", err)
	}
	if current.ID != first.ID || len(current.Days) != 7 {
		t.Fatalf("expected stored plan with 7 days, got %+v", current)
	}
	meal := current.Days[2].Meals[0]
	if meal.Status != StatusPending || meal.ScheduledAt.In(time.Local).Hour() != 8 {
		t.Errorf("unexpected breakfast %+v", meal)
	}
	if meal.Recipe == nil || len(meal.Recipe.Ingredients) != 1 || len(meal.Recipe.Instructions) != 3 {
		t.Errorf("recipe not stored: %+v", meal.Recipe)
	}
	if current.Days[2].Date.Weekday() != time.Wednesday {
		t.Errorf("day 3 is not the week's Wednesday: %v", current.Days[2].Date)
	}

	second := f.generate(t)
	old, err := f.svc.GetPlan(ctx, f.family.ID, first.ID)
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if old.IsActive {
		t.Error("previous plan must be deactivated")
	}
	current, err = f.svc.CurrentPlan(ctx, f.family.ID)
	if err != nil || current.ID != second.ID {
		t.Errorf("expected the new plan to be active, got %v (%v)", current, err)
	}
}

func TestGeneratePlanRejected(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)

	f.mock.responses = []string{f.weekJSON(t, 6)}
	_, meta, err := f.svc.GeneratePlan(ctx, f.family.ID, "")
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Violations) == 0 {
		t.Errorf("expected violations, got %v", err)
	}
	if meta.Usage.TotalTokens == 0 {
		t.Error("usage must be reported for rejected generations")
	}
	if _, err := f.svc.CurrentPlan(ctx, f.family.ID); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("nothing may be stored after a rejection, got %v", err)
	}
}

func TestMealCompletion(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)
	plan := f.generate(t)
	mealID := plan.Days[0].Meals[0].ID

	t.Run("insufficient stock aborts the transition", func(t *testing.T) {
		_, err := f.svc.UpdateMealStatus(ctx, f.family.ID, mealID, StatusCompleted)
		if !errors.Is(err, shared.ErrInsufficientInventory) {
			t.Fatalf("expected insufficient inventory, got %v", err)
		}
		ref, err := f.svc.plans.GetMeal(ctx, mealID)
		if err != nil {
			t.Fatalf("GetMeal failed: %v", err)
		}
		if ref.Meal.Status != StatusPending || ref.Meal.CompletedAt != nil {
			t.Errorf("meal changed after failed completion: %+v", ref.Meal)
		}
	})

	if _, err := f.ledger.AddStock(ctx, inventory.AddStockRequest{
		FamilyID: f.family.ID, ProductID: f.oats.ID, Quantity: 1, Unit: units.Kilogram,
	}); err != nil {
		t.Fatalf("AddStock failed: %v", err)
	}

	stock := func(t *testing.T) float64 {
		t.Helper()
		lots, err := f.ledger.List(ctx, f.family.ID, nil)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		total := 0.0
		for _, l := range lots {
			q, err := units.Convert(l.Quantity, l.Unit, units.Gram, f.oats.Packaging())
			if err != nil {
				t.Fatalf("Convert failed: %v", err)
			}
			total += q
		}
		return total
	}

	first, err := f.svc.UpdateMealStatus(ctx, f.family.ID, mealID, StatusCompleted)
	if err != nil {
		t.Fatalf("UpdateMealStatus failed: %v", err)
	}
	if first.CompletedAt == nil {
		t.Fatal("completedAt must be set on completion")
	}
	if got := stock(t); math.Abs(got-920) > 1e-6 {
		t.Fatalf("expected 920 g left after deducting 80 g, got %g", got)
	}

	second, err := f.svc.UpdateMealStatus(ctx, f.family.ID, mealID, StatusCompleted)
	if err != nil {
		t.Fatalf("UpdateMealStatus failed: %v", err)
	}
	if got := stock(t); math.Abs(got-920) > 1e-6 {
		t.Errorf("second completion deducted again: %g g left", got)
	}
	if second.CompletedAt == nil || !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("completedAt changed: %v -> %v", first.CompletedAt, second.CompletedAt)
	}

	// Leaving completed clears the stamp and does not restock.
	reopened, err := f.svc.UpdateMealStatus(ctx, f.family.ID, mealID, StatusPending)
	if err != nil {
		t.Fatalf("UpdateMealStatus failed: %v", err)
	}
	if reopened.CompletedAt != nil {
		t.Error("completedAt must be cleared when leaving completed")
	}
	if got := stock(t); math.Abs(got-920) > 1e-6 {
		t.Errorf("leaving completed must not restock, got %g g", got)
	}
}

func TestMealOwnershipAndStatus(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)
	plan := f.generate(t)
	mealID := plan.Days[0].Meals[0].ID

	if _, err := f.svc.UpdateMealStatus(ctx, "other-family", mealID, StatusSkipped); !errors.Is(err, shared.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.GetPlan(ctx, "other-family", plan.ID); !errors.Is(err, shared.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.UpdateMealStatus(ctx, f.family.ID, mealID, "eaten"); !errors.Is(err, shared.ErrValidation) {
		t.Errorf("expected validation failure, got %v", err)
	}
	if _, err := f.svc.UpdateMealStatus(ctx, f.family.ID, "missing", StatusSkipped); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRegenerate(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)
	plan := f.generate(t)

	t.Run("meal cleared", func(t *testing.T) {
		mealID := plan.Days[1].Meals[0].ID
		f.mock.responses = []string{`{"meal":{"recipe":null}}`}
		updated, _, err := f.svc.RegenerateMeal(ctx, f.family.ID, mealID, "not hungry")
		if err != nil {
			t.Fatalf("RegenerateMeal failed: %v", err)
		}
		meal, _, ok := updated.FindMeal(mealID)
		if !ok || meal.Recipe != nil {
			t.Errorf("expected the recipe to be cleared, got %+v", meal)
		}
	})

	t.Run("day", func(t *testing.T) {
		day := CandidateDay{Meals: []CandidateMeal{{FamilyMemberID: f.member.ID, MealType: "breakfast", Recipe: candidateRecipe(f.oats.ID)}}}
		day.Meals[0].Recipe.Name = "Oat pancakes"
		b, _ := json.Marshal(dayResponse{Day: &day})
		f.mock.responses = []string{string(b)}

		updated, _, err := f.svc.RegenerateDay(ctx, f.family.ID, plan.ID, 4, "variety")
		if err != nil {
			t.Fatalf("RegenerateDay failed: %v", err)
		}
		d, _ := updated.Day(4)
		if len(d.Meals) != 1 || d.Meals[0].Recipe.Name != "Oat pancakes" {
			t.Errorf("day 4 not replaced: %+v", d.Meals)
		}

		stored, err := f.svc.GetPlan(ctx, f.family.ID, plan.ID)
		if err != nil {
			t.Fatalf("GetPlan failed: %v", err)
		}
		d, _ = stored.Day(4)
		if d.Meals[0].Recipe == nil || d.Meals[0].Recipe.Name != "Oat pancakes" {
			t.Errorf("regenerated day not stored: %+v", d.Meals)
		}
	})

	t.Run("day rejected", func(t *testing.T) {
		f.mock.responses = []string{`{"day":{"meals":[]}}`}
		_, _, err := f.svc.RegenerateDay(ctx, f.family.ID, plan.ID, 5, "")
		if !errors.Is(err, shared.ErrValidation) {
			t.Fatalf("expected validation failure, got %v", err)
		}
	})

	t.Run("week", func(t *testing.T) {
		f.mock.responses = []string{f.weekJSON(t, 7)}
		updated, _, err := f.svc.RegeneratePlan(ctx, f.family.ID, plan.ID, "again")
		if err != nil {
			t.Fatalf("RegeneratePlan failed: %v", err)
		}
		if updated.ID != plan.ID || len(updated.Days) != 7 {
			t.Errorf("unexpected plan %+v", updated)
		}
	})
}

func TestAutoSkipOverdue(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)
	f.generate(t)

	f.svc.now = func() time.Time { return time.Now().AddDate(0, 0, 30) }
	n, err := f.svc.AutoSkipOverdue(ctx, f.family.ID, time.Hour)
	if err != nil {
		t.Fatalf("AutoSkipOverdue failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 meals skipped, got %d", n)
	}

	plan, err := f.svc.CurrentPlan(ctx, f.family.ID)
	if err != nil {
		t.Fatalf("CurrentPlan failed: %v", err)
	}
	for _, d := range plan.Days {
		if d.Meals[0].Status != StatusAutoSkipped {
			t.Errorf("day %d meal is %s", d.DayNumber, d.Meals[0].Status)
		}
	}
}

func TestPlanTransition(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	withRecipe := Meal{Status: StatusCooking, Recipe: &Recipe{Ingredients: []Ingredient{{ProductID: "p"}}}}

	tr, err := PlanTransition(withRecipe, StatusCompleted, now)
	if err != nil || !tr.Deduct || tr.CompletedAt == nil || !tr.CompletedAt.Equal(now) {
		t.Errorf("unexpected completion %+v (%v)", tr, err)
	}

	tr, _ = PlanTransition(Meal{Status: StatusPending}, StatusCompleted, now)
	if tr.Deduct {
		t.Error("a meal without recipe deducts nothing")
	}

	done := Meal{Status: StatusCompleted, CompletedAt: &earlier, Recipe: withRecipe.Recipe}
	tr, _ = PlanTransition(done, StatusCompleted, now)
	if !tr.NoOp || tr.Deduct || !tr.CompletedAt.Equal(earlier) {
		t.Errorf("re-completion must be a no-op, got %+v", tr)
	}

	tr, _ = PlanTransition(done, StatusSkipped, now)
	if tr.CompletedAt != nil || tr.Deduct {
		t.Errorf("leaving completed must clear the stamp, got %+v", tr)
	}
}

func TestParseMealStatus(t *testing.T) {
	s, err := ParseMealStatus("cooking")
	if err != nil || s != StatusCooking {
		t.Fatalf("ParseMealStatus failed: %v (%s)", err, s)
	}

	_, err = ParseMealStatus("eaten")
	if !errors.Is(err, shared.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if shared.Kind(err) != "ValidationFailed" {
		t.Errorf("Kind = %s, want ValidationFailed", shared.Kind(err))
	}
}
