package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the read side of the catalog: product listings and the
// authoritative prices checkout snapshots into order lines.
type Store struct{ DB *pgxpool.Pool }

func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, sku, name, brand, price_cents, created_at, updated_at
                                FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Brand, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Sizes, err = s.sizes(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) sizes(ctx context.Context, productID string) ([]SizeStock, error) {
	rows, err := s.DB.Query(ctx, `SELECT size, stock FROM product_sizes WHERE product_id=$1 ORDER BY size`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SizeStock
	for rows.Next() {
		var ss SizeStock
		if err := rows.Scan(&ss.Size, &ss.Stock); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Prices returns price_cents per product id. Missing ids are simply
// absent from the map; the caller decides whether that is an error.
func (s *Store) Prices(ctx context.Context, productIDs []string) (map[string]int, error) {
	if len(productIDs) == 0 {
		return map[string]int{}, nil
	}
	args := make([]any, 0, len(productIDs))
	params := ""
	for i, id := range productIDs {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	rows, err := s.DB.Query(ctx, `SELECT id, price_cents FROM products WHERE id IN (`+params+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := map[string]int{}
	for rows.Next() {
		var id string
		var price int
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		prices[id] = price
	}
	return prices, rows.Err()
}
