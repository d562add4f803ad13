package inventory

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/pricing"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

// Ledger owns pantry stock: additions, FEFO deduction and lot maintenance.
// Every mutating call runs as a single transaction.
type Ledger struct {
	db         *database.DB
	lots       *Repository
	products   *catalog.Repository
	households *household.Repository
	now        func() time.Time
}

// NewLedger creates a Ledger over the given repositories.
func NewLedger(db *database.DB, lots *Repository, products *catalog.Repository, households *household.Repository) *Ledger {
	return &Ledger{
		db:         db,
		lots:       lots,
		products:   products,
		households: households,
		now:        time.Now,
	}
}

// AddStockRequest describes a pantry addition, optionally a priced purchase.
type AddStockRequest struct {
	FamilyID  string
	ProductID string
	Quantity  float64
	Unit      units.Unit
	// ExpiresAt overwrites the expiry of a merged lot when set.
	ExpiresAt *time.Time
	// ActualPrice records a price observation for the product.
	ActualPrice *decimal.Decimal
	// DeductFromBudget debits ActualPrice from the weekly budget.
	DeductFromBudget bool
}

// AddStockResult reports the resulting lot and, for budget debits, the ledger state.
type AddStockResult struct {
	Lot    Lot
	Merged bool
	Budget *household.BudgetSummary
}

// AddStock merges the quantity into the product's most recent lot, or opens a
// new lot when the household holds none.
func (l *Ledger) AddStock(ctx context.Context, req AddStockRequest) (*AddStockResult, error) {
	results, err := l.AddStockBatch(ctx, []AddStockRequest{req})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// AddStockBatch applies several additions in one transaction. Either every
// request is booked or none is.
func (l *Ledger) AddStockBatch(ctx context.Context, reqs []AddStockRequest) ([]AddStockResult, error) {
	if len(reqs) == 0 {
		return nil, shared.Invalid("no stock to add")
	}
	for _, req := range reqs {
		if err := req.validate(); err != nil {
			return nil, err
		}
	}

	results := make([]AddStockResult, 0, len(reqs))
	err := l.db.InTx(ctx, func(tx *sql.Tx) error {
		now := l.now()
		for _, req := range reqs {
			result, err := l.addStock(ctx, tx, req, now)
			if err != nil {
				return err
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, req := range reqs {
		slog.Info("stock added", "family_id", req.FamilyID, "product_id", req.ProductID,
			"quantity", req.Quantity, "unit", req.Unit, "merged", results[i].Merged)
	}
	if last := results[len(results)-1].Budget; last != nil && last.Status == household.BudgetOverspent {
		slog.Warn("weekly budget overspent", "family_id", reqs[len(reqs)-1].FamilyID, "used", last.Used)
	}
	return results, nil
}

func (req AddStockRequest) validate() error {
	if req.Quantity <= 0 {
		return shared.Invalid("quantity must be positive, got %g", req.Quantity)
	}
	if !req.Unit.Valid() {
		return shared.Invalid("unsupported unit %q", req.Unit)
	}
	if req.DeductFromBudget && req.ActualPrice == nil {
		return shared.Invalid("actual price is required when deducting from budget")
	}
	if req.ActualPrice != nil && req.ActualPrice.IsNegative() {
		return shared.Invalid("actual price must not be negative")
	}
	return nil
}

func (l *Ledger) addStock(ctx context.Context, tx *sql.Tx, req AddStockRequest, now time.Time) (AddStockResult, error) {
	var result AddStockResult
	households := l.households.WithTx(tx)
	if _, err := households.Get(ctx, req.FamilyID); err != nil {
		return result, err
	}
	products := l.products.WithTx(tx)
	product, err := products.Get(ctx, req.ProductID)
	if err != nil {
		return result, err
	}

	lot, merged, err := l.restock(ctx, tx, req.FamilyID, *product, req.Quantity, req.Unit, req.ExpiresAt)
	if err != nil {
		return result, err
	}
	result.Lot, result.Merged = lot, merged

	if req.ActualPrice == nil {
		return result, nil
	}
	if _, err := products.RecordPrice(ctx, product.ID, *req.ActualPrice, pricing.SourceStock, now); err != nil {
		return result, err
	}
	if req.DeductFromBudget {
		summary, err := households.Spend(ctx, req.FamilyID, *req.ActualPrice, now)
		if err != nil {
			return result, err
		}
		result.Budget = &summary
	}
	return result, nil
}

// Restock adds quantity to the pantry inside the caller's transaction, merging
// into the product's most recent lot when there is one.
func (l *Ledger) Restock(ctx context.Context, tx *sql.Tx, familyID string, product catalog.Product, quantity float64, unit units.Unit) (Lot, error) {
	lot, _, err := l.restock(ctx, tx, familyID, product, quantity, unit, nil)
	return lot, err
}

func (l *Ledger) restock(ctx context.Context, tx *sql.Tx, familyID string, product catalog.Product, quantity float64, unit units.Unit, expiresAt *time.Time) (Lot, bool, error) {
	lots := l.lots.WithTx(tx)
	existing, err := lots.MostRecent(ctx, familyID, product.ID)
	if err != nil {
		return Lot{}, false, err
	}

	if existing == nil {
		lot := Lot{
			FamilyID:  familyID,
			ProductID: product.ID,
			Quantity:  quantity,
			Unit:      unit,
			ExpiresAt: expiresAt,
			CreatedAt: l.now().UTC(),
		}
		if err := lots.Create(ctx, &lot); err != nil {
			return Lot{}, false, err
		}
		return lot, false, nil
	}

	merged, err := Merge(*existing, quantity, unit, product.Packaging())
	if err != nil {
		return Lot{}, false, err
	}
	if expiresAt != nil {
		merged.ExpiresAt = expiresAt
	}
	if err := lots.Update(ctx, merged); err != nil {
		return Lot{}, false, err
	}
	return merged, true, nil
}

// Deduct consumes demand from the household's pantry atomically.
func (l *Ledger) Deduct(ctx context.Context, familyID string, demand []Demand) error {
	return l.db.InTx(ctx, func(tx *sql.Tx) error {
		return l.DeductTx(ctx, tx, familyID, demand)
	})
}

// DeductTx consumes demand inside the caller's transaction. Nothing is written
// unless every line is covered.
func (l *Ledger) DeductTx(ctx context.Context, tx *sql.Tx, familyID string, demand []Demand) error {
	if len(demand) == 0 {
		return nil
	}
	ids := make([]string, 0, len(demand))
	for _, d := range demand {
		ids = append(ids, d.ProductID)
	}

	products, err := l.products.WithTx(tx).GetMany(ctx, ids)
	if err != nil {
		return err
	}
	packagings := make(map[string]units.Packaging, len(products))
	for id, p := range products {
		packagings[id] = p.Packaging()
	}

	lots := l.lots.WithTx(tx)
	current, err := lots.ListForProducts(ctx, familyID, keys(packagings))
	if err != nil {
		return err
	}

	deduction, err := PlanDeduction(current, demand, packagings)
	if err != nil {
		return err
	}
	return lots.Apply(ctx, deduction)
}

// List returns the household's lots, optionally only those expiring within the given window.
func (l *Ledger) List(ctx context.Context, familyID string, expiringWithin *time.Duration) ([]Lot, error) {
	filter := ListFilter{Now: l.now()}
	if expiringWithin != nil {
		until := filter.Now.Add(*expiringWithin)
		filter.ExpiringBefore = &until
	}
	return l.lots.List(ctx, familyID, filter)
}

// Get returns a lot owned by the household.
func (l *Ledger) Get(ctx context.Context, familyID, id string) (*Lot, error) {
	return owned(ctx, l.lots, familyID, id)
}

// LotUpdate carries the editable fields of a lot; nil fields are left alone.
type LotUpdate struct {
	Quantity  *float64
	ExpiresAt *time.Time
}

// Update edits a lot owned by the household.
func (l *Ledger) Update(ctx context.Context, familyID, id string, update LotUpdate) (*Lot, error) {
	if update.Quantity != nil && *update.Quantity <= 0 {
		return nil, shared.Invalid("quantity must be positive, got %g", *update.Quantity)
	}

	var lot *Lot
	err := l.db.InTx(ctx, func(tx *sql.Tx) error {
		lots := l.lots.WithTx(tx)
		var err error
		if lot, err = owned(ctx, lots, familyID, id); err != nil {
			return err
		}
		if update.Quantity != nil {
			lot.Quantity = *update.Quantity
		}
		if update.ExpiresAt != nil {
			lot.ExpiresAt = update.ExpiresAt
		}
		return lots.Update(ctx, *lot)
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// Remove deletes a lot owned by the household.
func (l *Ledger) Remove(ctx context.Context, familyID, id string) error {
	return l.db.InTx(ctx, func(tx *sql.Tx) error {
		lots := l.lots.WithTx(tx)
		if _, err := owned(ctx, lots, familyID, id); err != nil {
			return err
		}
		return lots.Delete(ctx, id)
	})
}

func owned(ctx context.Context, lots *Repository, familyID, id string) (*Lot, error) {
	lot, err := lots.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lot.FamilyID != familyID {
		return nil, shared.Forbidden("inventory item %s belongs to another household", id)
	}
	return lot, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
