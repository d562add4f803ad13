package household

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetStatus is the outcome of comparing spend against the weekly budget.
type BudgetStatus string

const (
	BudgetOK        BudgetStatus = "ok"
	BudgetOverspent BudgetStatus = "overspent"
)

// BudgetSummary is returned to callers after every spend.
type BudgetSummary struct {
	WeeklyBudget *decimal.Decimal
	Used         decimal.Decimal
	// Remaining is nil when the budget is unlimited and negative when overspent.
	Remaining   *decimal.Decimal
	Status      BudgetStatus
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// WeekPeriod returns the Monday 00:00 (inclusive) to next Monday 00:00
// (exclusive) window containing t, in t's location.
func WeekPeriod(t time.Time) (time.Time, time.Time) {
	daysFromMonday := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	start := time.Date(y, m, d-daysFromMonday, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 7)
}

// RollPeriod moves the ledger to the week containing now when the stored
// period has ended, resetting spend. It reports whether the period changed.
func (f *Family) RollPeriod(now time.Time) bool {
	if !f.PeriodEnd.IsZero() && now.Before(f.PeriodEnd) && !now.Before(f.PeriodStart) {
		return false
	}
	f.PeriodStart, f.PeriodEnd = WeekPeriod(now)
	f.BudgetUsed = decimal.Zero
	return true
}

// Spend accumulates amount into the current period. Overspending never
// blocks; it is reported through the summary status.
func (f *Family) Spend(amount decimal.Decimal, now time.Time) BudgetSummary {
	f.RollPeriod(now)
	f.BudgetUsed = f.BudgetUsed.Add(amount)
	return f.summary()
}

// Summary reports the ledger as seen at now without modifying f.
func (f Family) Summary(now time.Time) BudgetSummary {
	f.RollPeriod(now)
	return f.summary()
}

func (f *Family) summary() BudgetSummary {
	s := BudgetSummary{
		WeeklyBudget: f.WeeklyBudget,
		Used:         f.BudgetUsed,
		Status:       BudgetOK,
		PeriodStart:  f.PeriodStart,
		PeriodEnd:    f.PeriodEnd,
	}
	if f.WeeklyBudget != nil {
		remaining := f.WeeklyBudget.Sub(f.BudgetUsed)
		s.Remaining = &remaining
		if remaining.IsNegative() {
			s.Status = BudgetOverspent
		}
	}
	return s
}
