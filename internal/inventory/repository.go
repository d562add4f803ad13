package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/google/uuid"
)

const lotColumns = `id, family_id, product_id, quantity, unit, expiry_date, created_at`

// Repository persists pantry lots.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a new inventory repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a new Repository that uses the provided transaction.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// Create inserts a new lot.
func (r *Repository) Create(ctx context.Context, lot *Lot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO inventory_lots (`+lotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lot.ID, lot.FamilyID, lot.ProductID, lot.Quantity, string(lot.Unit),
		unixOrNil(lot.ExpiresAt), lot.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert inventory lot: %w", err)
	}
	return nil
}

// Get returns the lot with the given id.
func (r *Repository) Get(ctx context.Context, id string) (*Lot, error) {
	lot, err := scanLot(r.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("inventory item %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory item %s: %w", id, err)
	}
	return lot, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	// ExpiringBefore keeps only dated lots expiring in [Now, ExpiringBefore].
	ExpiringBefore *time.Time
	Now            time.Time
}

// List returns a family's lots, newest first.
func (r *Repository) List(ctx context.Context, familyID string, filter ListFilter) ([]Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM inventory_lots WHERE family_id = ?`
	args := []any{familyID}
	if filter.ExpiringBefore != nil {
		query += ` AND expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?`
		args = append(args, filter.Now.UnixNano(), filter.ExpiringBefore.UnixNano())
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	return r.query(ctx, query, args...)
}

// ListForProducts returns a family's lots of the given products in creation order.
func (r *Repository) ListForProducts(ctx context.Context, familyID string, productIDs []string) ([]Lot, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(productIDs)), ",")
	args := make([]any, 0, len(productIDs)+1)
	args = append(args, familyID)
	for _, id := range productIDs {
		args = append(args, id)
	}
	return r.query(ctx, `SELECT `+lotColumns+` FROM inventory_lots
		WHERE family_id = ? AND product_id IN (`+placeholders+`)
		ORDER BY created_at, rowid`, args...)
}

// MostRecent returns the newest lot of a product, or nil when there is none.
func (r *Repository) MostRecent(ctx context.Context, familyID, productID string) (*Lot, error) {
	lot, err := scanLot(r.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM inventory_lots
		WHERE family_id = ? AND product_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, familyID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest lot of product %s: %w", productID, err)
	}
	return lot, nil
}

// Update writes the quantity and expiry of lot.
func (r *Repository) Update(ctx context.Context, lot Lot) error {
	res, err := r.db.ExecContext(ctx, `UPDATE inventory_lots SET quantity = ?, expiry_date = ? WHERE id = ?`,
		lot.Quantity, unixOrNil(lot.ExpiresAt), lot.ID)
	if err != nil {
		return fmt.Errorf("failed to update inventory item %s: %w", lot.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.NotFound("inventory item %s", lot.ID)
	}
	return nil
}

// Delete removes a lot.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM inventory_lots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete inventory item %s: %w", id, err)
	}
	return nil
}

// Apply writes a planned deduction.
func (r *Repository) Apply(ctx context.Context, d Deduction) error {
	for _, lot := range d.Updated {
		if err := r.Update(ctx, lot); err != nil {
			return err
		}
	}
	for _, id := range d.Deleted {
		if err := r.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Lot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory lot: %w", err)
		}
		lots = append(lots, *lot)
	}
	return lots, rows.Err()
}

func scanLot(s interface{ Scan(...any) error }) (*Lot, error) {
	var (
		lot       Lot
		unit      string
		expiry    sql.NullInt64
		createdAt int64
	)
	if err := s.Scan(&lot.ID, &lot.FamilyID, &lot.ProductID, &lot.Quantity, &unit, &expiry, &createdAt); err != nil {
		return nil, err
	}
	lot.Unit = units.Unit(unit)
	if expiry.Valid {
		t := time.Unix(0, expiry.Int64).UTC()
		lot.ExpiresAt = &t
	}
	lot.CreatedAt = time.Unix(0, createdAt).UTC()
	return &lot, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
