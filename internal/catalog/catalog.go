package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
)

var ErrNotFound = errors.New("catalog: product not found")

// Catalog is the slice of the product subsystem checkout depends on: current
// prices (never trusted from the client) and the defined variant axes.
type Catalog interface {
	Price(ctx context.Context, productID string) (int, error)
	Variants(ctx context.Context, productID string) (colors, sizes []string, err error)
}

type PGCatalog struct{ DB *pgxpool.Pool }

func (c *PGCatalog) Price(ctx context.Context, productID string) (int, error) {
	var cents int
	err := c.DB.QueryRow(ctx, `SELECT price_cents FROM products WHERE id=$1`, productID).Scan(&cents)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return cents, nil
}

func (c *PGCatalog) Variants(ctx context.Context, productID string) ([]string, []string, error) {
	rows, err := c.DB.Query(ctx,
		`SELECT DISTINCT color, size FROM variant_stock WHERE product_id=$1 ORDER BY color, size`, productID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	seenColor := map[string]bool{}
	seenSize := map[string]bool{}
	var colors, sizes []string
	for rows.Next() {
		var color, size string
		if err := rows.Scan(&color, &size); err != nil {
			return nil, nil, err
		}
		if !seenColor[color] {
			seenColor[color] = true
			colors = append(colors, color)
		}
		if !seenSize[size] {
			seenSize[size] = true
			sizes = append(sizes, size)
		}
	}
	return colors, sizes, rows.Err()
}

// ListProducts returns the catalog with variant stock attached, for the
// storefront listing endpoint.
func (c *PGCatalog) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := c.DB.Query(ctx, `SELECT id, sku, name, price_cents, total_stock, created_at, updated_at
	                              FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	idx := map[string]int{}
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.TotalStock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		idx[p.ID] = len(out)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := c.DB.Query(ctx, `SELECT product_id, color, size, stock FROM variant_stock ORDER BY product_id, color, size`)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var pid string
		var v orders.VariantStock
		if err := vrows.Scan(&pid, &v.Color, &v.Size, &v.Stock); err != nil {
			return nil, err
		}
		if i, ok := idx[pid]; ok {
			out[i].Variants = append(out[i].Variants, v)
		}
	}
	return out, vrows.Err()
}
