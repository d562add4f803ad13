package shopping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository handles persistence of shopping lists.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a new shopping list repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a new Repository that uses the provided transaction.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// Insert stores a list and its items, assigning ids.
func (r *Repository) Insert(ctx context.Context, list *List) error {
	if list.ID == "" {
		list.ID = uuid.New().String()
	}
	if list.CreatedAt.IsZero() {
		list.CreatedAt = time.Now().UTC()
	}
	if list.Status == "" {
		list.Status = StatusPending
	}
	var planID any
	if list.PlanID != "" {
		planID = list.PlanID
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO shopping_lists (id, family_id, plan_id, status, total_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		list.ID, list.FamilyID, planID, string(list.Status), list.TotalPrice.String(), list.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert shopping list: %w", err)
	}

	for i := range list.Items {
		item := &list.Items[i]
		item.ID = uuid.New().String()
		item.ListID = list.ID
		item.Position = i
		_, err := r.db.ExecContext(ctx, `INSERT INTO shopping_list_items
			(id, list_id, product_id, quantity, unit, estimated_price, actual_price, actual_quantity, is_purchased, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, list.ID, item.ProductID, item.Quantity, string(item.Unit), item.EstimatedPrice.String(),
			decimalOrNil(item.ActualPrice), floatOrNil(item.ActualQuantity), item.IsPurchased, item.Position)
		if err != nil {
			return fmt.Errorf("failed to insert shopping list item %s: %w", item.ProductID, err)
		}
	}
	return nil
}

// CloseOpen marks every non-completed list of the family completed.
func (r *Repository) CloseOpen(ctx context.Context, familyID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE shopping_lists SET status = ? WHERE family_id = ? AND status <> ?`,
		string(StatusCompleted), familyID, string(StatusCompleted))
	if err != nil {
		return 0, fmt.Errorf("failed to close shopping lists of family %s: %w", familyID, err)
	}
	return res.RowsAffected()
}

// Get returns a list with its items.
func (r *Repository) Get(ctx context.Context, id string) (*List, error) {
	list, err := r.scanList(r.db.QueryRowContext(ctx, `SELECT id, family_id, plan_id, status, total_price, created_at
		FROM shopping_lists WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("shopping list %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shopping list %s: %w", id, err)
	}
	return list, r.loadItems(ctx, list)
}

// Current returns the family's open list.
func (r *Repository) Current(ctx context.Context, familyID string) (*List, error) {
	list, err := r.scanList(r.db.QueryRowContext(ctx, `SELECT id, family_id, plan_id, status, total_price, created_at
		FROM shopping_lists WHERE family_id = ? AND status <> ? ORDER BY created_at DESC LIMIT 1`,
		familyID, string(StatusCompleted)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("open shopping list for family %s", familyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current shopping list: %w", err)
	}
	return list, r.loadItems(ctx, list)
}

// UpdateItem writes the purchase fields of an item.
func (r *Repository) UpdateItem(ctx context.Context, item Item) error {
	_, err := r.db.ExecContext(ctx, `UPDATE shopping_list_items
		SET actual_price = ?, actual_quantity = ?, is_purchased = ? WHERE id = ?`,
		decimalOrNil(item.ActualPrice), floatOrNil(item.ActualQuantity), item.IsPurchased, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update shopping list item %s: %w", item.ID, err)
	}
	return nil
}

// SetStatus changes a list's status.
func (r *Repository) SetStatus(ctx context.Context, id string, status ListStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE shopping_lists SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update shopping list %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.NotFound("shopping list %s", id)
	}
	return nil
}

func (r *Repository) scanList(row *sql.Row) (*List, error) {
	var (
		list      List
		planID    sql.NullString
		status    string
		total     string
		createdAt int64
	)
	if err := row.Scan(&list.ID, &list.FamilyID, &planID, &status, &total, &createdAt); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("invalid total price %q: %w", total, err)
	}
	list.PlanID = planID.String
	list.Status = ListStatus(status)
	list.TotalPrice = price
	list.CreatedAt = time.Unix(0, createdAt).UTC()
	return &list, nil
}

func (r *Repository) loadItems(ctx context.Context, list *List) error {
	rows, err := r.db.QueryContext(ctx, `SELECT id, product_id, quantity, unit, estimated_price, actual_price,
			actual_quantity, is_purchased, position
		FROM shopping_list_items WHERE list_id = ? ORDER BY position`, list.ID)
	if err != nil {
		return fmt.Errorf("failed to query shopping list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item            Item
			unit, estimated string
			actualPrice     sql.NullString
			actualQuantity  sql.NullFloat64
		)
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &unit, &estimated, &actualPrice,
			&actualQuantity, &item.IsPurchased, &item.Position); err != nil {
			return fmt.Errorf("failed to scan shopping list item: %w", err)
		}
		item.ListID = list.ID
		item.Unit = units.Unit(unit)
		if item.EstimatedPrice, err = decimal.NewFromString(estimated); err != nil {
			return fmt.Errorf("invalid estimated price %q: %w", estimated, err)
		}
		if actualPrice.Valid {
			p, err := decimal.NewFromString(actualPrice.String)
			if err != nil {
				return fmt.Errorf("invalid actual price %q: %w", actualPrice.String, err)
			}
			item.ActualPrice = &p
		}
		if actualQuantity.Valid {
			q := actualQuantity.Float64
			item.ActualQuantity = &q
		}
		list.Items = append(list.Items, item)
	}
	return rows.Err()
}

func decimalOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
