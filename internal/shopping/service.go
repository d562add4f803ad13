package shopping

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/pricing"
	"family-meal-planner/internal/shared"

	"github.com/shopspring/decimal"
)

// Service derives shopping lists from plans and books completed shopping
// trips into the pantry, the price estimator and the budget ledger.
type Service struct {
	db         *database.DB
	lists      *Repository
	plans      *planner.PlanRepository
	products   *catalog.Repository
	households *household.Repository
	lots       *inventory.Repository
	ledger     *inventory.Ledger
	now        func() time.Time
}

// NewService creates a shopping Service.
func NewService(
	db *database.DB,
	lists *Repository,
	plans *planner.PlanRepository,
	products *catalog.Repository,
	households *household.Repository,
	lots *inventory.Repository,
	ledger *inventory.Ledger,
) *Service {
	return &Service{
		db:         db,
		lists:      lists,
		plans:      plans,
		products:   products,
		households: households,
		lots:       lots,
		ledger:     ledger,
		now:        time.Now,
	}
}

// GenerateFromPlan computes the plan's shortfall against the pantry and
// stores it as the family's new open list, closing any previous one.
func (s *Service) GenerateFromPlan(ctx context.Context, familyID, planID string) (*List, error) {
	var list *List
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		plan, err := s.plans.WithTx(tx).Get(ctx, planID)
		if err != nil {
			return err
		}
		if plan.FamilyID != familyID {
			return shared.Forbidden("meal plan %s belongs to another household", planID)
		}

		ingredients := plan.Ingredients()
		ids := make([]string, 0, len(ingredients))
		for _, ing := range ingredients {
			ids = append(ids, ing.ProductID)
		}
		products, err := s.products.WithTx(tx).GetMany(ctx, ids)
		if err != nil {
			return err
		}
		requirements, err := Aggregate(ingredients, products)
		if err != nil {
			return err
		}
		lots, err := s.lots.WithTx(tx).ListForProducts(ctx, familyID, ids)
		if err != nil {
			return err
		}
		lines := Reconcile(requirements, lots, products)

		list = &List{
			FamilyID:   familyID,
			PlanID:     planID,
			Status:     StatusPending,
			TotalPrice: Total(lines),
			CreatedAt:  s.now().UTC(),
		}
		for _, l := range lines {
			list.Items = append(list.Items, Item{
				ProductID:      l.ProductID,
				Quantity:       l.Quantity,
				Unit:           l.Unit,
				EstimatedPrice: l.EstimatedPrice,
			})
		}

		lists := s.lists.WithTx(tx)
		if _, err := lists.CloseOpen(ctx, familyID); err != nil {
			return err
		}
		return lists.Insert(ctx, list)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("shopping list generated", "family_id", familyID, "plan_id", planID,
		"list_id", list.ID, "items", len(list.Items), "total", list.TotalPrice.StringFixed(2))
	return list, nil
}

// Current returns the family's open list.
func (s *Service) Current(ctx context.Context, familyID string) (*List, error) {
	return s.lists.Current(ctx, familyID)
}

// Get returns a list owned by the family.
func (s *Service) Get(ctx context.Context, familyID, listID string) (*List, error) {
	return owned(ctx, s.lists, familyID, listID)
}

// ItemUpdate records purchase progress on one item. Nil fields are left alone.
type ItemUpdate struct {
	IsPurchased    *bool
	ActualPrice    *decimal.Decimal
	ActualQuantity *float64
	// ClearActual resets the recorded price and quantity.
	ClearActual bool
}

func (u ItemUpdate) empty() bool {
	return u.IsPurchased == nil && u.ActualPrice == nil && u.ActualQuantity == nil && !u.ClearActual
}

// UpdateItem records purchase progress. The first update moves a pending
// list to in_progress.
func (s *Service) UpdateItem(ctx context.Context, familyID, listID, itemID string, update ItemUpdate) (*Item, error) {
	if update.ActualPrice != nil && update.ActualPrice.IsNegative() {
		return nil, shared.Invalid("actual price must not be negative")
	}
	if update.ActualQuantity != nil && *update.ActualQuantity < 0 {
		return nil, shared.Invalid("actual quantity must not be negative")
	}

	var item Item
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		lists := s.lists.WithTx(tx)
		list, err := owned(ctx, lists, familyID, listID)
		if err != nil {
			return err
		}
		found, ok := list.Item(itemID)
		if !ok {
			return shared.NotFound("shopping list item %s", itemID)
		}
		if list.Status == StatusCompleted {
			return shared.Invalid("shopping list %s is already completed", listID)
		}

		item = *found
		if update.ClearActual {
			item.ActualPrice, item.ActualQuantity = nil, nil
		}
		if update.ActualPrice != nil {
			item.ActualPrice = update.ActualPrice
		}
		if update.ActualQuantity != nil {
			item.ActualQuantity = update.ActualQuantity
		}
		if update.IsPurchased != nil {
			item.IsPurchased = *update.IsPurchased
		}
		if err := lists.UpdateItem(ctx, item); err != nil {
			return err
		}

		if list.Status == StatusPending && !update.empty() {
			return lists.SetStatus(ctx, listID, StatusInProgress)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Purchase is the final record of one item in a completed shopping trip.
// Nil fields fall back to what was recorded on the item earlier.
type Purchase struct {
	ItemID         string
	ActualPrice    *decimal.Decimal
	ActualQuantity *float64
}

// CompletionResult reports the budget after a shopping trip.
type CompletionResult struct {
	List   *List
	Spent  decimal.Decimal
	Budget household.BudgetSummary
}

// Complete closes a shopping trip: purchased quantities are added to the
// pantry, prices feed the catalog estimator and their sum is debited from the
// budget. purchases must name every item of the list exactly once.
func (s *Service) Complete(ctx context.Context, familyID, listID string, purchases []Purchase) (*CompletionResult, error) {
	if len(purchases) == 0 {
		return nil, shared.Invalid("shopping list items are required")
	}
	for _, p := range purchases {
		if p.ActualPrice != nil && p.ActualPrice.IsNegative() {
			return nil, shared.Invalid("item %s: actual price must not be negative", p.ItemID)
		}
		if p.ActualQuantity != nil && *p.ActualQuantity < 0 {
			return nil, shared.Invalid("item %s: actual quantity must not be negative", p.ItemID)
		}
	}

	var result CompletionResult
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		lists := s.lists.WithTx(tx)
		list, err := owned(ctx, lists, familyID, listID)
		if err != nil {
			return err
		}
		if list.Status == StatusCompleted {
			return shared.Invalid("shopping list %s is already completed", listID)
		}
		if err := checkCoverage(list, purchases); err != nil {
			return err
		}

		ids := make([]string, 0, len(list.Items))
		for _, it := range list.Items {
			ids = append(ids, it.ProductID)
		}
		productRepo := s.products.WithTx(tx)
		products, err := productRepo.GetMany(ctx, ids)
		if err != nil {
			return err
		}

		spent := decimal.Zero
		for _, p := range purchases {
			item, _ := list.Item(p.ItemID)
			if p.ActualPrice != nil {
				item.ActualPrice = p.ActualPrice
			}
			if p.ActualQuantity != nil {
				item.ActualQuantity = p.ActualQuantity
			}
			item.IsPurchased = item.ActualPrice != nil || item.ActualQuantity != nil
			if err := lists.UpdateItem(ctx, *item); err != nil {
				return err
			}

			if item.ActualQuantity != nil && *item.ActualQuantity > 0 {
				if _, err := s.ledger.Restock(ctx, tx, familyID, products[item.ProductID], *item.ActualQuantity, item.Unit); err != nil {
					return err
				}
			}
			if item.ActualPrice != nil {
				if _, err := productRepo.RecordPrice(ctx, item.ProductID, *item.ActualPrice, pricing.SourceShopping, now); err != nil {
					return err
				}
				spent = spent.Add(*item.ActualPrice)
			}
		}

		summary, err := s.households.WithTx(tx).Spend(ctx, familyID, spent, now)
		if err != nil {
			return err
		}
		if err := lists.SetStatus(ctx, listID, StatusCompleted); err != nil {
			return err
		}
		list.Status = StatusCompleted
		result = CompletionResult{List: list, Spent: spent, Budget: summary}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("shopping completed", "family_id", familyID, "list_id", listID,
		"spent", result.Spent.StringFixed(2), "budget_status", result.Budget.Status)
	if result.Budget.Status == household.BudgetOverspent {
		slog.Warn("weekly budget overspent", "family_id", familyID, "used", result.Budget.Used.StringFixed(2))
	}
	return &result, nil
}

// Remove closes a list without booking anything.
func (s *Service) Remove(ctx context.Context, familyID, listID string) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		lists := s.lists.WithTx(tx)
		if _, err := owned(ctx, lists, familyID, listID); err != nil {
			return err
		}
		return lists.SetStatus(ctx, listID, StatusCompleted)
	})
}

func checkCoverage(list *List, purchases []Purchase) error {
	if len(purchases) != len(list.Items) {
		return shared.Invalid("all %d shopping list items must be provided, got %d", len(list.Items), len(purchases))
	}
	seen := make(map[string]bool, len(purchases))
	for _, p := range purchases {
		if _, ok := list.Item(p.ItemID); !ok {
			return shared.Invalid("item %s is not on shopping list %s", p.ItemID, list.ID)
		}
		if seen[p.ItemID] {
			return shared.Invalid("item %s is listed more than once", p.ItemID)
		}
		seen[p.ItemID] = true
	}
	return nil
}

func owned(ctx context.Context, lists *Repository, familyID, listID string) (*List, error) {
	list, err := lists.Get(ctx, listID)
	if err != nil {
		return nil, err
	}
	if list.FamilyID != familyID {
		return nil, shared.Forbidden("shopping list %s belongs to another household", listID)
	}
	return list, nil
}
