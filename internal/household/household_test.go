package household

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/shared"

	"github.com/shopspring/decimal"
)

func TestRequiredMealTypes(t *testing.T) {
	tests := []struct {
		name   string
		member Member
		want   []MealType
	}{
		{"configured", Member{MealTimes: []MealType{Dinner, Breakfast}}, []MealType{Dinner, Breakfast}},
		{"configured overrides registration", Member{IsRegistered: true, MealTimes: []MealType{Lunch}}, []MealType{Lunch}},
		{"registered default", Member{IsRegistered: true}, AllMealTypes},
		{"unregistered default", Member{}, nil},
		{"duplicates and junk dropped", Member{MealTimes: []MealType{Snack, "brunch", Snack}}, []MealType{Snack}},
		{"only junk falls back", Member{IsRegistered: true, MealTimes: []MealType{"brunch"}}, AllMealTypes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.member.RequiredMealTypes()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RequiredMealTypes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeekPeriod(t *testing.T) {
	loc := time.UTC
	wantStart := time.Date(2026, 3, 2, 0, 0, 0, 0, loc) // Monday
	wantEnd := time.Date(2026, 3, 9, 0, 0, 0, 0, loc)

	for _, now := range []time.Time{
		wantStart,
		time.Date(2026, 3, 4, 15, 30, 0, 0, loc),
		time.Date(2026, 3, 8, 23, 59, 59, 0, loc), // Sunday
	} {
		start, end := WeekPeriod(now)
		if !start.Equal(wantStart) || !end.Equal(wantEnd) {
			t.Errorf("WeekPeriod(%s) = %s..%s, want %s..%s", now, start, end, wantStart, wantEnd)
		}
	}
}

func TestSpend(t *testing.T) {
	budget := decimal.RequireFromString("100")
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	start, end := WeekPeriod(now)
	f := &Family{WeeklyBudget: &budget, BudgetUsed: decimal.Zero, PeriodStart: start, PeriodEnd: end}

	s := f.Spend(decimal.RequireFromString("60"), now)
	if s.Status != BudgetOK || !s.Remaining.Equal(decimal.RequireFromString("40")) {
		t.Errorf("unexpected summary after first spend: %+v", s)
	}

	s = f.Spend(decimal.RequireFromString("55"), now)
	if s.Status != BudgetOverspent {
		t.Errorf("expected overspent, got %s", s.Status)
	}
	if !f.BudgetUsed.Equal(decimal.RequireFromString("115")) {
		t.Errorf("overspend must still be recorded, used = %s", f.BudgetUsed)
	}

	t.Run("NewWeekResets", func(t *testing.T) {
		next := now.AddDate(0, 0, 7)
		s := f.Spend(decimal.RequireFromString("10"), next)
		if !s.Used.Equal(decimal.RequireFromString("10")) || s.Status != BudgetOK {
			t.Errorf("expected fresh period, got %+v", s)
		}
		if !s.PeriodStart.Equal(start.AddDate(0, 0, 7)) {
			t.Errorf("expected period to roll forward, got %s", s.PeriodStart)
		}
	})

	t.Run("Unlimited", func(t *testing.T) {
		u := &Family{}
		s := u.Spend(decimal.RequireFromString("1000"), now)
		if s.Remaining != nil || s.Status != BudgetOK {
			t.Errorf("unlimited budget should never overspend: %+v", s)
		}
	})
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "household.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()
	repo := NewRepository(db.SQL)

	budget := decimal.RequireFromString("500")
	f := &Family{Name: "Smiths", WeeklyBudget: &budget}
	if err := repo.CreateFamily(ctx, f); err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	anna := &Member{FamilyID: f.ID, Name: "Anna", IsRegistered: true, Goal: GoalHealthyEating, TelegramUserID: 42}
	tom := &Member{FamilyID: f.ID, Name: "Tom", MealTimes: []MealType{Breakfast, Dinner}}
	for _, m := range []*Member{anna, tom} {
		if err := repo.AddMember(ctx, m); err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
	}

	got, err := repo.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Members) != 2 || got.Members[0].Name != "Anna" {
		t.Fatalf("unexpected members: %+v", got.Members)
	}
	if !reflect.DeepEqual(got.Members[1].MealTimes, []MealType{Breakfast, Dinner}) {
		t.Errorf("meal times not round-tripped: %v", got.Members[1].MealTimes)
	}

	summary, err := repo.Spend(ctx, f.ID, decimal.RequireFromString("120.50"), time.Now())
	if err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if !summary.Remaining.Equal(decimal.RequireFromString("379.5")) {
		t.Errorf("expected 379.5 remaining, got %s", summary.Remaining)
	}

	member, err := repo.FindMemberByTelegramID(ctx, 42)
	if err != nil || member.ID != anna.ID {
		t.Errorf("FindMemberByTelegramID = %+v, %v", member, err)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestLoadFamily(t *testing.T) {
	input := `
name: Smiths
weekly_budget: "2500"
members:
  - name: Anna
    registered: true
    goal: healthy_eating
  - name: Tom
    meal_times: [Breakfast, dinner]
`
	f, err := LoadFamily(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadFamily failed: %v", err)
	}
	if f.WeeklyBudget == nil || !f.WeeklyBudget.Equal(decimal.RequireFromString("2500")) {
		t.Errorf("unexpected budget: %v", f.WeeklyBudget)
	}
	if len(f.Members) != 2 || !reflect.DeepEqual(f.Members[1].MealTimes, []MealType{Breakfast, Dinner}) {
		t.Errorf("unexpected members: %+v", f.Members)
	}

	if _, err := LoadFamily(strings.NewReader("name: X\nmembers:\n  - name: Y\n    meal_times: [brunch]\n")); !errors.Is(err, shared.ErrValidation) {
		t.Errorf("expected validation error for unknown meal time, got %v", err)
	}
}
