package household

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/shared"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository persists families, their members and budget ledgers.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a new household repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a new Repository that uses the provided transaction.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// CreateFamily inserts f with a budget period covering now.
func (r *Repository) CreateFamily(ctx context.Context, f *Family) error {
	if f.Name == "" {
		return shared.Invalid("family name is required")
	}
	if f.WeeklyBudget != nil && f.WeeklyBudget.IsNegative() {
		return shared.Invalid("weekly budget must not be negative")
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	now := time.Now()
	f.CreatedAt = now.UTC()
	f.BudgetUsed = decimal.Zero
	f.PeriodStart, f.PeriodEnd = WeekPeriod(now)

	_, err := r.db.ExecContext(ctx, `INSERT INTO families
		(id, name, weekly_budget, budget_used, budget_period_start, budget_period_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, decimalOrNil(f.WeeklyBudget), f.BudgetUsed.String(),
		f.PeriodStart.UnixNano(), f.PeriodEnd.UnixNano(), f.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert family: %w", err)
	}
	return nil
}

// AddMember inserts m into its family.
func (r *Repository) AddMember(ctx context.Context, m *Member) error {
	if m.Name == "" {
		return shared.Invalid("member name is required")
	}
	if !m.Goal.Valid() {
		return shared.Invalid("member %q has unknown goal %q", m.Name, m.Goal)
	}
	for _, t := range m.MealTimes {
		if !t.Valid() {
			return shared.Invalid("member %q has unknown meal time %q", m.Name, t)
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	mealTimes, err := json.Marshal(nonNilMealTypes(m.MealTimes))
	if err != nil {
		return fmt.Errorf("failed to marshal meal times: %w", err)
	}
	allergies, err := json.Marshal(nonNilStrings(m.Allergies))
	if err != nil {
		return fmt.Errorf("failed to marshal allergies: %w", err)
	}

	var telegramID any
	if m.TelegramUserID != 0 {
		telegramID = m.TelegramUserID
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO family_members
		(id, family_id, name, is_registered, meal_times, allergies, goal, telegram_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FamilyID, m.Name, m.IsRegistered, string(mealTimes), string(allergies),
		string(m.Goal), telegramID, m.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert member %q: %w", m.Name, err)
	}
	return nil
}

// Get returns the family with its members.
func (r *Repository) Get(ctx context.Context, id string) (*Family, error) {
	var (
		f                     Family
		weeklyBudget          sql.NullString
		budgetUsed            string
		start, end, createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, weekly_budget, budget_used,
		budget_period_start, budget_period_end, created_at FROM families WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &weeklyBudget, &budgetUsed, &start, &end, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("family %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get family %s: %w", id, err)
	}

	if weeklyBudget.Valid {
		b, err := decimal.NewFromString(weeklyBudget.String)
		if err != nil {
			return nil, fmt.Errorf("invalid weekly budget %q: %w", weeklyBudget.String, err)
		}
		f.WeeklyBudget = &b
	}
	if f.BudgetUsed, err = decimal.NewFromString(budgetUsed); err != nil {
		return nil, fmt.Errorf("invalid budget used %q: %w", budgetUsed, err)
	}
	f.PeriodStart = time.Unix(0, start)
	f.PeriodEnd = time.Unix(0, end)
	f.CreatedAt = time.Unix(0, createdAt).UTC()

	if f.Members, err = r.Members(ctx, id); err != nil {
		return nil, err
	}
	return &f, nil
}

// Members returns a family's members in creation order.
func (r *Repository) Members(ctx context.Context, familyID string) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, family_id, name, is_registered, meal_times,
		allergies, goal, telegram_user_id, created_at
		FROM family_members WHERE family_id = ? ORDER BY created_at, rowid`, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of family %s: %w", familyID, err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// FindMemberByTelegramID resolves a chat user to their household membership.
func (r *Repository) FindMemberByTelegramID(ctx context.Context, telegramID int64) (*Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, family_id, name, is_registered, meal_times,
		allergies, goal, telegram_user_id, created_at
		FROM family_members WHERE telegram_user_id = ?`, telegramID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("member with telegram id %d", telegramID)
	}
	return m, err
}

// SaveBudget persists the ledger fields of f.
func (r *Repository) SaveBudget(ctx context.Context, f *Family) error {
	res, err := r.db.ExecContext(ctx, `UPDATE families SET weekly_budget = ?, budget_used = ?,
		budget_period_start = ?, budget_period_end = ? WHERE id = ?`,
		decimalOrNil(f.WeeklyBudget), f.BudgetUsed.String(),
		f.PeriodStart.UnixNano(), f.PeriodEnd.UnixNano(), f.ID)
	if err != nil {
		return fmt.Errorf("failed to save budget of family %s: %w", f.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.NotFound("family %s", f.ID)
	}
	return nil
}

// SetWeeklyBudget changes the budget ceiling; nil means unlimited.
func (r *Repository) SetWeeklyBudget(ctx context.Context, familyID string, budget *decimal.Decimal, now time.Time) (BudgetSummary, error) {
	if budget != nil && budget.IsNegative() {
		return BudgetSummary{}, shared.Invalid("weekly budget must not be negative")
	}
	f, err := r.Get(ctx, familyID)
	if err != nil {
		return BudgetSummary{}, err
	}
	f.WeeklyBudget = budget
	f.RollPeriod(now)
	if err := r.SaveBudget(ctx, f); err != nil {
		return BudgetSummary{}, err
	}
	return f.Summary(now), nil
}

// Spend debits amount from the family's budget ledger and persists it.
func (r *Repository) Spend(ctx context.Context, familyID string, amount decimal.Decimal, now time.Time) (BudgetSummary, error) {
	if amount.IsNegative() {
		return BudgetSummary{}, shared.Invalid("spend amount must not be negative")
	}
	f, err := r.Get(ctx, familyID)
	if err != nil {
		return BudgetSummary{}, err
	}
	summary := f.Spend(amount, now)
	if err := r.SaveBudget(ctx, f); err != nil {
		return BudgetSummary{}, err
	}
	return summary, nil
}

func scanMember(s interface{ Scan(...any) error }) (*Member, error) {
	var (
		m                    Member
		mealTimes, allergies string
		goal                 string
		telegramID           sql.NullInt64
		createdAt            int64
	)
	if err := s.Scan(&m.ID, &m.FamilyID, &m.Name, &m.IsRegistered, &mealTimes, &allergies,
		&goal, &telegramID, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mealTimes), &m.MealTimes); err != nil {
		return nil, fmt.Errorf("invalid meal times of member %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(allergies), &m.Allergies); err != nil {
		return nil, fmt.Errorf("invalid allergies of member %s: %w", m.ID, err)
	}
	m.Goal = Goal(goal)
	m.TelegramUserID = telegramID.Int64
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return &m, nil
}

func decimalOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nonNilMealTypes(s []MealType) []MealType {
	if s == nil {
		return []MealType{}
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
