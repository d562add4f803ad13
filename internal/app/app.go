package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/metrics"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/receipt"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/shopping"

	"github.com/shopspring/decimal"
)

// Engine holds the application's services and records their metrics.
type Engine struct {
	db           *database.DB
	Products     *catalog.Repository
	Households   *household.Repository
	Inventory    *inventory.Ledger
	Planner      *planner.Service
	Shopping     *shopping.Service
	receipts     *receipt.Scanner
	metricsStore *metrics.Store
	metrics      *metrics.EngineMetrics
	now          func() time.Time
}

// NewEngine wires every service on top of db. textGen backs plan generation,
// and receipt scanning when it also implements llm.ImageGenerator.
func NewEngine(db *database.DB, textGen llm.TextGenerator, engineMetrics *metrics.EngineMetrics) *Engine {
	products := catalog.NewRepository(db.SQL)
	households := household.NewRepository(db.SQL)
	lots := inventory.NewRepository(db.SQL)
	plans := planner.NewPlanRepository(db.SQL)
	ledger := inventory.NewLedger(db, lots, products, households)

	if engineMetrics == nil {
		engineMetrics = metrics.NewEngineMetrics()
	}

	var receipts *receipt.Scanner
	if imageGen, ok := textGen.(llm.ImageGenerator); ok {
		receipts = receipt.NewScanner(imageGen)
	}

	return &Engine{
		db:           db,
		Products:     products,
		Households:   households,
		Inventory:    ledger,
		Planner:      planner.NewService(db, plans, products, households, ledger, planner.NewGenerator(textGen)),
		Shopping:     shopping.NewService(db, shopping.NewRepository(db.SQL), plans, products, households, lots, ledger),
		receipts:     receipts,
		metricsStore: metrics.NewStore(db.SQL),
		metrics:      engineMetrics,
		now:          time.Now,
	}
}

// Metrics returns the Prometheus collectors of the engine.
func (e *Engine) Metrics() *metrics.EngineMetrics {
	return e.metrics
}

// WeeklyPlan is a freshly generated plan with the shopping list derived from it.
type WeeklyPlan struct {
	Plan *planner.MealPlan
	List *shopping.List
}

// GenerateWeeklyPlan generates and stores the week's plan, then derives the
// shopping list against the current pantry.
func (e *Engine) GenerateWeeklyPlan(ctx context.Context, familyID, reason string) (*WeeklyPlan, error) {
	plan, meta, err := e.Planner.GeneratePlan(ctx, familyID, reason)
	e.recordGeneration(ctx, meta, err)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	list, err := e.Shopping.GenerateFromPlan(ctx, familyID, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate shopping list: %w", err)
	}
	e.metrics.ShoppingLists.Inc()
	return &WeeklyPlan{Plan: plan, List: list}, nil
}

// RegeneratePlan replaces all days of a stored plan.
func (e *Engine) RegeneratePlan(ctx context.Context, familyID, planID, reason string) (*planner.MealPlan, error) {
	plan, meta, err := e.Planner.RegeneratePlan(ctx, familyID, planID, reason)
	e.recordGeneration(ctx, meta, err)
	return plan, err
}

// RegenerateDay replaces one day of a stored plan.
func (e *Engine) RegenerateDay(ctx context.Context, familyID, planID string, dayNumber int, reason string) (*planner.MealPlan, error) {
	plan, meta, err := e.Planner.RegenerateDay(ctx, familyID, planID, dayNumber, reason)
	e.recordGeneration(ctx, meta, err)
	return plan, err
}

// RegenerateMeal replaces the recipe of one meal.
func (e *Engine) RegenerateMeal(ctx context.Context, familyID, mealID, reason string) (*planner.MealPlan, error) {
	plan, meta, err := e.Planner.RegenerateMeal(ctx, familyID, mealID, reason)
	e.recordGeneration(ctx, meta, err)
	return plan, err
}

// RefreshShoppingList derives a new list from the family's active plan.
func (e *Engine) RefreshShoppingList(ctx context.Context, familyID string) (*shopping.List, error) {
	plan, err := e.Planner.CurrentPlan(ctx, familyID)
	if err != nil {
		return nil, err
	}
	list, err := e.Shopping.GenerateFromPlan(ctx, familyID, plan.ID)
	if err != nil {
		return nil, err
	}
	e.metrics.ShoppingLists.Inc()
	return list, nil
}

// UpdateMealStatus moves a meal through its lifecycle.
func (e *Engine) UpdateMealStatus(ctx context.Context, familyID, mealID string, status planner.MealStatus) (*planner.Meal, error) {
	meal, err := e.Planner.UpdateMealStatus(ctx, familyID, mealID, status)
	if err != nil {
		return nil, err
	}
	e.metrics.MealTransitions.WithLabelValues(string(meal.Status)).Inc()
	return meal, nil
}

// AutoSkipOverdue sweeps the family's pending meals older than grace.
func (e *Engine) AutoSkipOverdue(ctx context.Context, familyID string, grace time.Duration) (int64, error) {
	n, err := e.Planner.AutoSkipOverdue(ctx, familyID, grace)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.metrics.MealTransitions.WithLabelValues(string(planner.StatusAutoSkipped)).Add(float64(n))
	}
	return n, nil
}

// CompleteShopping books a finished shopping trip.
func (e *Engine) CompleteShopping(ctx context.Context, familyID, listID string, purchases []shopping.Purchase) (*shopping.CompletionResult, error) {
	result, err := e.Shopping.Complete(ctx, familyID, listID, purchases)
	if err != nil {
		return nil, err
	}
	if result.Budget.Status == household.BudgetOverspent {
		e.metrics.BudgetOverspends.Inc()
	}
	return result, nil
}

// AddStock adds a product to the family's pantry.
func (e *Engine) AddStock(ctx context.Context, req inventory.AddStockRequest) (*inventory.AddStockResult, error) {
	result, err := e.Inventory.AddStock(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Budget != nil && result.Budget.Status == household.BudgetOverspent {
		e.metrics.BudgetOverspends.Inc()
	}
	return result, nil
}

// ScanReceipt reads a receipt photo into lines matched against the active
// catalog. Nothing is booked until ConfirmReceipt.
func (e *Engine) ScanReceipt(ctx context.Context, image []byte, mimeType string) ([]receipt.Line, error) {
	if e.receipts == nil {
		return nil, shared.Invalid("the configured llm provider cannot read images")
	}
	products, err := e.Products.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	lines, meta, err := e.receipts.Scan(ctx, image, mimeType, products)
	if meta.Reached() {
		e.recordGeneration(ctx, meta, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan receipt: %w", err)
	}
	return lines, nil
}

// ReceiptResult reports the pantry additions booked from a receipt.
type ReceiptResult struct {
	Added   []inventory.AddStockResult
	Skipped []receipt.Line
	Budget  *household.BudgetSummary
}

// ConfirmReceipt books the bookable receipt lines as priced pantry additions
// debited from the weekly budget, all in one transaction. Lines that still
// need review are returned in Skipped.
func (e *Engine) ConfirmReceipt(ctx context.Context, familyID string, lines []receipt.Line) (*ReceiptResult, error) {
	products, err := e.Products.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	verified := receipt.Verify(lines, products)

	result := &ReceiptResult{}
	var bookable []receipt.Line
	for _, l := range verified {
		if l.Bookable() {
			bookable = append(bookable, l)
		} else {
			result.Skipped = append(result.Skipped, l)
		}
	}
	if len(bookable) == 0 {
		return nil, shared.Invalid("no receipt line can be booked, %d need review", len(result.Skipped))
	}

	reqs, _ := receipt.Requests(familyID, bookable)
	added, err := e.Inventory.AddStockBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}
	result.Added = added
	result.Budget = added[len(added)-1].Budget
	if result.Budget != nil && result.Budget.Status == household.BudgetOverspent {
		e.metrics.BudgetOverspends.Inc()
	}

	slog.Info("receipt confirmed", "family_id", familyID, "added", len(added), "skipped", len(result.Skipped))
	return result, nil
}

// Budget reports the family's budget for the current period.
func (e *Engine) Budget(ctx context.Context, familyID string) (household.BudgetSummary, error) {
	f, err := e.Households.Get(ctx, familyID)
	if err != nil {
		return household.BudgetSummary{}, err
	}
	return f.Summary(e.now()), nil
}

// SetWeeklyBudget changes the family's budget. Nil means unlimited.
func (e *Engine) SetWeeklyBudget(ctx context.Context, familyID string, budget *decimal.Decimal) (household.BudgetSummary, error) {
	return e.Households.SetWeeklyBudget(ctx, familyID, budget, e.now())
}

// ImportResult reports what a catalog import changed.
type ImportResult struct {
	Created int
	Skipped int
}

// ImportCatalog adds the products of a YAML catalog. Products whose name is
// already in the catalog are skipped.
func (e *Engine) ImportCatalog(ctx context.Context, r io.Reader) (ImportResult, error) {
	products, err := catalog.LoadCatalog(r)
	if err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	err = e.db.InTx(ctx, func(tx *sql.Tx) error {
		repo := e.Products.WithTx(tx)
		for i := range products {
			p := &products[i]
			_, err := repo.GetByName(ctx, p.Name)
			if err == nil {
				result.Skipped++
				continue
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
			if err := repo.Create(ctx, p); err != nil {
				return fmt.Errorf("failed to import %q: %w", p.Name, err)
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	slog.Info("catalog imported", "created", result.Created, "skipped", result.Skipped)
	return result, nil
}

// ImportFamily creates a household and its members from a YAML seed file.
func (e *Engine) ImportFamily(ctx context.Context, r io.Reader) (*household.Family, error) {
	family, err := household.LoadFamily(r)
	if err != nil {
		return nil, err
	}

	err = e.db.InTx(ctx, func(tx *sql.Tx) error {
		repo := e.Households.WithTx(tx)
		if err := repo.CreateFamily(ctx, family); err != nil {
			return err
		}
		for i := range family.Members {
			m := &family.Members[i]
			m.FamilyID = family.ID
			if err := repo.AddMember(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("family imported", "family_id", family.ID, "members", len(family.Members))
	return family, nil
}

// Usage returns daily token usage of the generator.
func (e *Engine) Usage(ctx context.Context, days int) ([]metrics.DailyUsage, error) {
	return e.metricsStore.GetDailyUsage(ctx, days)
}

// CleanupMetrics drops execution metrics older than the given number of days.
func (e *Engine) CleanupMetrics(ctx context.Context, olderThanDays int) (int64, error) {
	return e.metricsStore.Cleanup(ctx, olderThanDays)
}

// Health returns process and database health.
func (e *Engine) Health() metrics.SysHealth {
	return metrics.GetSysHealth(e.db.Path)
}

func (e *Engine) recordGeneration(ctx context.Context, meta shared.AgentMeta, err error) {
	outcome := metrics.OutcomeAccepted
	switch {
	case errors.Is(err, shared.ErrValidation):
		outcome = metrics.OutcomeRejected
	case err != nil:
		outcome = metrics.OutcomeFailed
	}
	if meta.Reached() {
		e.metrics.ObserveGeneration(meta, outcome)
	}
	if err := e.metricsStore.RecordMeta(ctx, meta); err != nil {
		slog.Warn("failed to record execution metric", "agent", meta.AgentName, "error", err)
	}
}
