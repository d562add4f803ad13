package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/pricing"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, name_en, category, base_unit, standard_packaging, average_price,
	price_history, calories, protein, fats, carbs, allergens, is_active, created_at, updated_at`

// Repository persists catalog products.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a new product repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a new Repository that uses the provided transaction.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// Create inserts p, seeding its price history with the initial price.
func (r *Repository) Create(ctx context.Context, p *Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.IsActive = true

	if len(p.PriceHistory) == 0 {
		history, avg, err := pricing.Record(nil, p.AveragePrice, pricing.SourceSystem, now)
		if err != nil {
			return err
		}
		p.PriceHistory, p.AveragePrice = history, avg
	} else {
		p.PriceHistory = pricing.FilterOutliers(p.PriceHistory)
		p.AveragePrice = pricing.Average(p.PriceHistory)
	}

	historyJSON, err := json.Marshal(p.PriceHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal price history: %w", err)
	}
	allergensJSON, err := json.Marshal(nonNil(p.Allergens))
	if err != nil {
		return fmt.Errorf("failed to marshal allergens: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.NameEn, string(p.Category), string(p.BaseUnit), p.StandardPackaging,
		p.AveragePrice.String(), string(historyJSON), p.Nutrition.Calories, p.Nutrition.Protein,
		p.Nutrition.Fats, p.Nutrition.Carbs, string(allergensJSON), true,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert product %q: %w", p.Name, err)
	}
	return nil
}

// Get returns the product with the given id.
func (r *Repository) Get(ctx context.Context, id string) (*Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("product %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	return p, nil
}

// GetByName returns the product with the given name.
func (r *Repository) GetByName(ctx context.Context, name string) (*Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE name = ?`, name)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFound("product %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %q: %w", name, err)
	}
	return p, nil
}

// GetMany returns the requested products keyed by id. Every id must exist.
func (r *Repository) GetMany(ctx context.Context, ids []string) (map[string]Product, error) {
	result := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	unique := dedupe(ids)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unique)), ",")
	args := make([]any, len(unique))
	for i, id := range unique {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		result[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	for _, id := range unique {
		if _, ok := result[id]; !ok {
			return nil, shared.NotFound("product %s", id)
		}
	}
	return result, nil
}

// ListActive returns every active product ordered by category and name.
func (r *Repository) ListActive(ctx context.Context) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE is_active = 1 ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// Deactivate hides a product from future plan generation. Existing references stay valid.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE products SET is_active = 0, updated_at = ? WHERE id = ?`, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate product %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.NotFound("product %s", id)
	}
	return nil
}

// RecordPrice adds a price observation and persists the filtered history and
// the re-derived average. Run it on a transaction-bound repository when the
// observation is part of a larger operation.
func (r *Repository) RecordPrice(ctx context.Context, id string, price decimal.Decimal, source string, at time.Time) (*Product, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	history, avg, err := pricing.Record(p.PriceHistory, price, source, at)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", id, err)
	}

	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal price history: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `UPDATE products SET price_history = ?, average_price = ?, updated_at = ? WHERE id = ?`,
		string(historyJSON), avg.String(), at.UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update price of product %s: %w", id, err)
	}

	p.PriceHistory, p.AveragePrice, p.UpdatedAt = history, avg, at
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*Product, error) {
	var (
		p                       Product
		category, baseUnit      string
		packaging               sql.NullFloat64
		avg, history, allergens string
		calories                sql.NullInt64
		protein, fats, carbs    sql.NullFloat64
		createdAt, updatedAt    int64
	)
	err := s.Scan(&p.ID, &p.Name, &p.NameEn, &category, &baseUnit, &packaging, &avg,
		&history, &calories, &protein, &fats, &carbs, &allergens, &p.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Category = Category(category)
	p.BaseUnit = units.Unit(baseUnit)
	if packaging.Valid {
		v := packaging.Float64
		p.StandardPackaging = &v
	}
	if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("invalid average price %q: %w", avg, err)
	}
	if err := json.Unmarshal([]byte(history), &p.PriceHistory); err != nil {
		return nil, fmt.Errorf("invalid price history: %w", err)
	}
	if err := json.Unmarshal([]byte(allergens), &p.Allergens); err != nil {
		return nil, fmt.Errorf("invalid allergens: %w", err)
	}
	if calories.Valid {
		v := int(calories.Int64)
		p.Nutrition.Calories = &v
	}
	p.Nutrition.Protein = nullFloat(protein)
	p.Nutrition.Fats = nullFloat(fats)
	p.Nutrition.Carbs = nullFloat(carbs)
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
