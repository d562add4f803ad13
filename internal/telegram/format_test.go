package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/shopping"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

func TestFormatPlan(t *testing.T) {
	weekStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	plan := &planner.MealPlan{
		WeekStart: weekStart,
		WeekEnd:   weekStart.AddDate(0, 0, 7),
		Days: []planner.Day{{
			DayNumber: 1,
			Date:      weekStart,
			Meals: []planner.Meal{
				{ID: "m1", FamilyMemberID: "u1", MealType: household.Breakfast, Status: planner.StatusCompleted,
					ScheduledAt: planner.ScheduledAt(weekStart, household.Breakfast), Recipe: &planner.Recipe{Name: "Porridge"}},
				{ID: "m2", FamilyMemberID: "u1", MealType: household.Dinner, Status: planner.StatusPending,
					ScheduledAt: planner.ScheduledAt(weekStart, household.Dinner)},
			},
		}},
	}

	out := formatPlan(plan, map[string]string{"u1": "Anna"})
	for _, want := range []string{
		"📅 *Meal Plan* 02.03 - 08.03",
		"*Monday 02.03*",
		"✅ 08:00 breakfast (Anna): Porridge `m1`",
		"⏳ 19:00 dinner (Anna): no recipe `m2`",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output is missing %q:\n%s", want, out)
		}
	}
}

func TestFormatShoppingList(t *testing.T) {
	products := map[string]catalog.Product{"p1": {ID: "p1", Name: "Oat_flakes"}}
	list := &shopping.List{
		TotalPrice: decimal.RequireFromString("18"),
		Items: []shopping.Item{
			{ProductID: "p1", Quantity: 300.0000001, Unit: units.Gram, EstimatedPrice: decimal.RequireFromString("18")},
			{ProductID: "gone", Quantity: 1, Unit: units.Piece, EstimatedPrice: decimal.Zero, IsPurchased: true},
		},
	}

	out := formatShoppingList(list, products)
	for _, want := range []string{
		`• Oat\_flakes: 300 g ≈ 18.00`,
		"☑️ gone: 1 piece ≈ 0.00",
		"*Estimated total:* 18.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("list output is missing %q:\n%s", want, out)
		}
	}

	empty := formatShoppingList(&shopping.List{}, nil)
	if !strings.Contains(empty, "already in the pantry") {
		t.Errorf("unexpected empty list output %q", empty)
	}
}

func TestFormatStock(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)
	soon := now.Add(24 * time.Hour)
	later := now.AddDate(0, 0, 10)
	lots := []inventory.Lot{
		{ProductID: "milk", Quantity: 1.5, Unit: units.Liter, ExpiresAt: &soon},
		{ProductID: "rice", Quantity: 2, Unit: units.Kilogram, ExpiresAt: &later},
	}
	products := map[string]catalog.Product{"milk": {Name: "Milk"}, "rice": {Name: "Rice"}}

	out := formatStock(lots, products, now)
	if !strings.Contains(out, "• Milk: 1.5 l ⚠️ 03.03") {
		t.Errorf("expiring lot not flagged:\n%s", out)
	}
	if !strings.Contains(out, "• Rice: 2 kg 📆 12.03") {
		t.Errorf("dated lot missing:\n%s", out)
	}
}

func TestFormatBudget(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	budget := decimal.RequireFromString("100")
	remaining := decimal.RequireFromString("-20")

	t.Run("Overspent", func(t *testing.T) {
		out := formatBudget(household.BudgetSummary{
			WeeklyBudget: &budget, Used: decimal.RequireFromString("120"), Remaining: &remaining,
			Status: household.BudgetOverspent, PeriodStart: start, PeriodEnd: start.AddDate(0, 0, 7),
		})
		if !strings.Contains(out, "Spent: 120.00 of 100.00") || !strings.Contains(out, "Over budget by 20.00") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("Unlimited", func(t *testing.T) {
		out := formatBudget(household.BudgetSummary{
			Used: decimal.RequireFromString("12.5"), Status: household.BudgetOK,
			PeriodStart: start, PeriodEnd: start.AddDate(0, 0, 7),
		})
		if !strings.Contains(out, "Spent: 12.50 (no limit)") {
			t.Errorf("unexpected output %q", out)
		}
	})
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{shared.NotFound("meal %s", "m1"), "🔍 Not found"},
		{shared.Forbidden("meal plan p1 belongs to another household"), "⛔ Not yours"},
		{shared.Invalid("bad `input`"), "bad 'input'"},
		{shared.Upstream(errors.New("timeout"), "generator call failed"), "unavailable"},
		{errors.New("disk full"), "Something went wrong"},
	}
	for _, tt := range tests {
		if got := errorText(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("errorText(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}
