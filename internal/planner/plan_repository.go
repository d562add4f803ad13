package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/google/uuid"
)

// PlanRepository persists meal plan trees.
type PlanRepository struct {
	db database.DBTX
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db database.DBTX) *PlanRepository {
	return &PlanRepository{db: db}
}

// WithTx returns a new PlanRepository that uses the provided transaction.
func (r *PlanRepository) WithTx(tx *sql.Tx) *PlanRepository {
	return &PlanRepository{db: tx}
}

// Insert stores a whole plan tree, assigning ids to every node.
func (r *PlanRepository) Insert(ctx context.Context, p *MealPlan) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO meal_plans (id, family_id, week_start, week_end, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.FamilyID, p.WeekStart.UnixNano(), p.WeekEnd.UnixNano(), p.IsActive, p.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert meal plan: %w", err)
	}

	return r.insertDays(ctx, p)
}

func (r *PlanRepository) insertDays(ctx context.Context, p *MealPlan) error {
	for i := range p.Days {
		d := &p.Days[i]
		d.ID = uuid.New().String()
		d.PlanID = p.ID
		_, err := r.db.ExecContext(ctx, `INSERT INTO plan_days (id, plan_id, day_number, date) VALUES (?, ?, ?, ?)`,
			d.ID, d.PlanID, d.DayNumber, d.Date.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert plan day %d: %w", d.DayNumber, err)
		}
		if err := r.insertMeals(ctx, d.ID, d.Meals); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceDays swaps the whole tree below plan p for p.Days.
func (r *PlanRepository) ReplaceDays(ctx context.Context, p *MealPlan) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM plan_days WHERE plan_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear days of plan %s: %w", p.ID, err)
	}
	return r.insertDays(ctx, p)
}

// DeactivateActive clears the active flag of the family's current plan.
func (r *PlanRepository) DeactivateActive(ctx context.Context, familyID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE meal_plans SET is_active = 0 WHERE family_id = ? AND is_active = 1`, familyID); err != nil {
		return fmt.Errorf("failed to deactivate meal plans of family %s: %w", familyID, err)
	}
	return nil
}

// Get loads a plan with its full tree.
func (r *PlanRepository) Get(ctx context.Context, id string) (*MealPlan, error) {
	return r.load(ctx, `SELECT id, family_id, week_start, week_end, is_active, created_at FROM meal_plans WHERE id = ?`, id)
}

// Active loads the family's active plan.
func (r *PlanRepository) Active(ctx context.Context, familyID string) (*MealPlan, error) {
	p, err := r.load(ctx, `SELECT id, family_id, week_start, week_end, is_active, created_at
		FROM meal_plans WHERE family_id = ? AND is_active = 1`, familyID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.NotFound("active meal plan for family %s", familyID)
	}
	return p, err
}

// ReplaceMeals swaps every meal of a day for meals.
func (r *PlanRepository) ReplaceMeals(ctx context.Context, dayID string, meals []Meal) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM meals WHERE day_id = ?`, dayID); err != nil {
		return fmt.Errorf("failed to clear meals of day %s: %w", dayID, err)
	}
	return r.insertMeals(ctx, dayID, meals)
}

// ReplaceRecipe sets the recipe of a meal; a nil recipe clears it.
func (r *PlanRepository) ReplaceRecipe(ctx context.Context, mealID string, recipe *Recipe) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM recipes WHERE meal_id = ?`, mealID); err != nil {
		return fmt.Errorf("failed to clear recipe of meal %s: %w", mealID, err)
	}
	if recipe == nil {
		return nil
	}
	return r.insertRecipe(ctx, mealID, recipe)
}

// MealRef is a meal together with the plan coordinates it lives at.
type MealRef struct {
	Meal      Meal
	PlanID    string
	FamilyID  string
	DayNumber int
	Date      time.Time
}

// GetMeal loads one meal with its recipe.
func (r *PlanRepository) GetMeal(ctx context.Context, id string) (*MealRef, error) {
	var (
		ref         MealRef
		mealType    string
		status      string
		scheduledAt int64
		completedAt sql.NullInt64
		date        int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT m.id, m.day_id, m.family_member_id, m.meal_type, m.scheduled_at,
			m.status, m.completed_at, d.plan_id, d.day_number, d.date, p.family_id
		FROM meals m
		JOIN plan_days d ON d.id = m.day_id
		JOIN meal_plans p ON p.id = d.plan_id
		WHERE m.id = ?`, id).Scan(
		&ref.Meal.ID, &ref.Meal.DayID, &ref.Meal.FamilyMemberID, &mealType, &scheduledAt,
		&status, &completedAt, &ref.PlanID, &ref.DayNumber, &date, &ref.FamilyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("meal %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meal %s: %w", id, err)
	}
	ref.Meal.MealType = household.MealType(mealType)
	ref.Meal.Status = MealStatus(status)
	ref.Meal.ScheduledAt = time.Unix(0, scheduledAt).UTC()
	ref.Meal.CompletedAt = timeOrNil(completedAt)
	ref.Date = time.Unix(0, date)

	recipes, err := r.recipes(ctx, `WHERE r.meal_id = ?`, id)
	if err != nil {
		return nil, err
	}
	ref.Meal.Recipe = recipes[id]
	return &ref, nil
}

// UpdateMealStatus writes a meal's status and completion time.
func (r *PlanRepository) UpdateMealStatus(ctx context.Context, id string, status MealStatus, completedAt *time.Time) error {
	var completed any
	if completedAt != nil {
		completed = completedAt.UnixNano()
	}
	res, err := r.db.ExecContext(ctx, `UPDATE meals SET status = ?, completed_at = ? WHERE id = ?`, string(status), completed, id)
	if err != nil {
		return fmt.Errorf("failed to update meal %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.NotFound("meal %s", id)
	}
	return nil
}

// SkipOverdue marks the family's pending meals scheduled before cutoff as auto-skipped.
func (r *PlanRepository) SkipOverdue(ctx context.Context, familyID string, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE meals SET status = ?, completed_at = NULL
		WHERE status = ? AND scheduled_at < ? AND day_id IN (
			SELECT d.id FROM plan_days d JOIN meal_plans p ON p.id = d.plan_id WHERE p.family_id = ?)`,
		string(StatusAutoSkipped), string(StatusPending), cutoff.UnixNano(), familyID)
	if err != nil {
		return 0, fmt.Errorf("failed to auto-skip meals of family %s: %w", familyID, err)
	}
	return res.RowsAffected()
}

func (r *PlanRepository) insertMeals(ctx context.Context, dayID string, meals []Meal) error {
	for i := range meals {
		m := &meals[i]
		m.ID = uuid.New().String()
		m.DayID = dayID
		if m.Status == "" {
			m.Status = StatusPending
		}
		var completed any
		if m.CompletedAt != nil {
			completed = m.CompletedAt.UnixNano()
		}
		_, err := r.db.ExecContext(ctx, `INSERT INTO meals (id, day_id, family_member_id, meal_type, scheduled_at, status, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, dayID, m.FamilyMemberID, string(m.MealType), m.ScheduledAt.UnixNano(), string(m.Status), completed)
		if err != nil {
			return fmt.Errorf("failed to insert meal: %w", err)
		}
		if m.Recipe != nil {
			if err := r.insertRecipe(ctx, m.ID, m.Recipe); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *PlanRepository) insertRecipe(ctx context.Context, mealID string, rec *Recipe) error {
	rec.ID = uuid.New().String()
	instructions, err := json.Marshal(nonNil(rec.Instructions))
	if err != nil {
		return fmt.Errorf("failed to marshal instructions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO recipes
		(id, meal_id, name, name_en, description, cooking_time, servings, calories, protein, fats, carbs, instructions, image_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, mealID, rec.Name, rec.NameEn, rec.Description, rec.CookingTime, rec.Servings,
		rec.Calories, rec.Protein, rec.Fats, rec.Carbs, string(instructions), rec.ImageURL)
	if err != nil {
		return fmt.Errorf("failed to insert recipe for meal %s: %w", mealID, err)
	}
	for i := range rec.Ingredients {
		ing := &rec.Ingredients[i]
		ing.ID = uuid.New().String()
		_, err := r.db.ExecContext(ctx, `INSERT INTO recipe_ingredients (id, recipe_id, product_id, quantity, unit, position)
			VALUES (?, ?, ?, ?, ?, ?)`, ing.ID, rec.ID, ing.ProductID, ing.Quantity, string(ing.Unit), i)
		if err != nil {
			return fmt.Errorf("failed to insert ingredient %s: %w", ing.ProductID, err)
		}
	}
	return nil
}

func (r *PlanRepository) load(ctx context.Context, query string, arg string) (*MealPlan, error) {
	var (
		p                           MealPlan
		weekStart, weekEnd, created int64
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&p.ID, &p.FamilyID, &weekStart, &weekEnd, &p.IsActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("meal plan %s", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meal plan: %w", err)
	}
	p.WeekStart = time.Unix(0, weekStart)
	p.WeekEnd = time.Unix(0, weekEnd)
	p.CreatedAt = time.Unix(0, created).UTC()

	if err := r.loadDays(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PlanRepository) loadDays(ctx context.Context, p *MealPlan) error {
	rows, err := r.db.QueryContext(ctx, `SELECT id, day_number, date FROM plan_days WHERE plan_id = ? ORDER BY day_number`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to query plan days: %w", err)
	}
	for rows.Next() {
		d := Day{PlanID: p.ID}
		var date int64
		if err := rows.Scan(&d.ID, &d.DayNumber, &date); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan plan day: %w", err)
		}
		d.Date = time.Unix(0, date)
		p.Days = append(p.Days, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	meals, err := r.mealsOfPlan(ctx, p.ID)
	if err != nil {
		return err
	}
	recipes, err := r.recipes(ctx, `JOIN meals m ON m.id = r.meal_id
		JOIN plan_days d ON d.id = m.day_id WHERE d.plan_id = ?`, p.ID)
	if err != nil {
		return err
	}

	for i := range p.Days {
		for _, m := range meals[p.Days[i].ID] {
			m.Recipe = recipes[m.ID]
			p.Days[i].Meals = append(p.Days[i].Meals, m)
		}
	}
	return nil
}

func (r *PlanRepository) mealsOfPlan(ctx context.Context, planID string) (map[string][]Meal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT m.id, m.day_id, m.family_member_id, m.meal_type, m.scheduled_at, m.status, m.completed_at
		FROM meals m JOIN plan_days d ON d.id = m.day_id
		WHERE d.plan_id = ? ORDER BY m.scheduled_at, m.rowid`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string][]Meal)
	for rows.Next() {
		var (
			m                Meal
			mealType, status string
			scheduledAt      int64
			completedAt      sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.DayID, &m.FamilyMemberID, &mealType, &scheduledAt, &status, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		m.MealType = household.MealType(mealType)
		m.Status = MealStatus(status)
		m.ScheduledAt = time.Unix(0, scheduledAt).UTC()
		m.CompletedAt = timeOrNil(completedAt)
		byDay[m.DayID] = append(byDay[m.DayID], m)
	}
	return byDay, rows.Err()
}

// recipes loads recipes keyed by meal id; where filters the recipes r.
func (r *PlanRepository) recipes(ctx context.Context, where string, arg string) (map[string]*Recipe, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT r.id, r.meal_id, r.name, r.name_en, r.description, r.cooking_time, r.servings,
			r.calories, r.protein, r.fats, r.carbs, r.instructions, r.image_url
		FROM recipes r `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipes: %w", err)
	}

	byMeal := make(map[string]*Recipe)
	byID := make(map[string]*Recipe)
	for rows.Next() {
		var (
			rec                   Recipe
			mealID, instructions  string
			cookingTime, calories sql.NullInt64
			protein, fats, carbs  sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &mealID, &rec.Name, &rec.NameEn, &rec.Description, &cookingTime, &rec.Servings,
			&calories, &protein, &fats, &carbs, &instructions, &rec.ImageURL); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		rec.CookingTime = int(cookingTime.Int64)
		rec.Calories = int(calories.Int64)
		rec.Protein, rec.Fats, rec.Carbs = protein.Float64, fats.Float64, carbs.Float64
		if err := json.Unmarshal([]byte(instructions), &rec.Instructions); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode instructions of recipe %s: %w", rec.ID, err)
		}
		byMeal[mealID] = &rec
		byID[rec.ID] = &rec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(byID) == 0 {
		return byMeal, nil
	}

	ingRows, err := r.db.QueryContext(ctx, `SELECT i.id, i.recipe_id, i.product_id, i.quantity, i.unit
		FROM recipe_ingredients i JOIN recipes r ON r.id = i.recipe_id `+where+` ORDER BY i.recipe_id, i.position`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipe ingredients: %w", err)
	}
	defer ingRows.Close()
	for ingRows.Next() {
		var (
			ing            Ingredient
			recipeID, unit string
		)
		if err := ingRows.Scan(&ing.ID, &recipeID, &ing.ProductID, &ing.Quantity, &unit); err != nil {
			return nil, fmt.Errorf("failed to scan recipe ingredient: %w", err)
		}
		ing.Unit = units.Unit(unit)
		if rec, ok := byID[recipeID]; ok {
			rec.Ingredients = append(rec.Ingredients, ing)
		}
	}
	return byMeal, ingRows.Err()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
