package inventory

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
	// ErrVariantRequired: the product tracks per-(color,size) stock but the
	// line did not say which cell. Reject, don't guess.
	ErrVariantRequired = errors.New("inventory: color and size required for variant product")
	ErrUnknownProduct  = errors.New("inventory: product not found")
)

// Line is one cart line to reserve. Color/Size are empty for products
// without variant stock.
type Line struct {
	ProductID string
	Color     string
	Size      string
	Qty       int
}

// InsufficientStockError names the first line that could not be satisfied.
type InsufficientStockError struct {
	ProductID string
	Color     string
	Size      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Color != "" || e.Size != "" {
		return fmt.Sprintf("inventory: insufficient stock for product %s (%s/%s): requested %d, available %d",
			e.ProductID, e.Color, e.Size, e.Requested, e.Available)
	}
	return fmt.Sprintf("inventory: insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// mergeLines folds cart lines addressing the same stock cell into one, so a
// cell is checked and deducted exactly once per reserve. Order of first
// appearance is kept. Quantities are validated before they are summed.
func mergeLines(lines []Line) ([]Line, error) {
	type key struct{ product, color, size string }
	idx := make(map[key]int, len(lines))
	merged := make([]Line, 0, len(lines))
	for _, it := range lines {
		if it.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
		k := key{it.ProductID, it.Color, it.Size}
		if i, ok := idx[k]; ok {
			merged[i].Qty += it.Qty
			continue
		}
		idx[k] = len(merged)
		merged = append(merged, it)
	}
	return merged, nil
}

// Ledger owns stock exclusively. Reserve deducts eagerly and is
// all-or-nothing across the line list; Release is idempotent; Commit
// finalizes an existing reservation (the deduction already happened at
// reserve time).
type Ledger interface {
	Reserve(ctx context.Context, orderID string, lines []Line) error
	Release(ctx context.Context, orderID string) error
	Commit(ctx context.Context, orderID string) error
}
