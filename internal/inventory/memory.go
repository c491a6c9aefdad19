package inventory

import (
	"context"
	"sync"
)

type cellKey struct{ color, size string }

type productStock struct {
	total    int
	variants map[cellKey]int
}

type heldLine struct {
	line   Line
	status string
}

// MemoryLedger is an in-process Ledger used in tests and local runs. A single
// mutex serializes reserve/release/commit, which is the serialization point
// the reservation protocol needs.
type MemoryLedger struct {
	mu       sync.Mutex
	products map[string]*productStock
	held     map[string][]heldLine
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		products: make(map[string]*productStock),
		held:     make(map[string][]heldLine),
	}
}

// SetStock defines a product without variant stock.
func (l *MemoryLedger) SetStock(productID string, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[productID] = &productStock{total: total}
}

// SetVariantStock defines one (color,size) cell. The product becomes
// variant-tracked; its total is informational from then on.
func (l *MemoryLedger) SetVariantStock(productID, color, size string, qty int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.products[productID]
	if p == nil {
		p = &productStock{}
		l.products[productID] = p
	}
	if p.variants == nil {
		p.variants = make(map[cellKey]int)
	}
	p.variants[cellKey{color, size}] = qty
}

// Available reports current stock for a cell (or the total for non-variant
// products). Intended for tests and diagnostics.
func (l *MemoryLedger) Available(productID, color, size string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.products[productID]
	if p == nil {
		return 0
	}
	if len(p.variants) > 0 {
		return p.variants[cellKey{color, size}]
	}
	return p.total
}

func (l *MemoryLedger) Reserve(_ context.Context, orderID string, lines []Line) error {
	// duplicate lines against one cell must count as one combined demand
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// validate the whole list before touching anything so a late failure
	// cannot leak a partial deduction
	for _, it := range merged {
		p := l.products[it.ProductID]
		if p == nil {
			return ErrUnknownProduct
		}
		if len(p.variants) > 0 {
			if it.Color == "" || it.Size == "" {
				return ErrVariantRequired
			}
			avail := p.variants[cellKey{it.Color, it.Size}]
			if avail < it.Qty {
				return &InsufficientStockError{ProductID: it.ProductID, Color: it.Color, Size: it.Size, Requested: it.Qty, Available: avail}
			}
		} else if p.total < it.Qty {
			return &InsufficientStockError{ProductID: it.ProductID, Requested: it.Qty, Available: p.total}
		}
	}

	for _, it := range merged {
		p := l.products[it.ProductID]
		if len(p.variants) > 0 {
			p.variants[cellKey{it.Color, it.Size}] -= it.Qty
		} else {
			p.total -= it.Qty
		}
		l.held[orderID] = append(l.held[orderID], heldLine{line: it, status: reservationReserved})
	}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, h := range l.held[orderID] {
		if h.status != reservationReserved {
			continue
		}
		p := l.products[h.line.ProductID]
		if p != nil {
			if len(p.variants) > 0 {
				p.variants[cellKey{h.line.Color, h.line.Size}] += h.line.Qty
			} else {
				p.total += h.line.Qty
			}
		}
		l.held[orderID][i].status = reservationReleased
	}
	return nil
}

func (l *MemoryLedger) Commit(_ context.Context, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, h := range l.held[orderID] {
		if h.status == reservationReserved {
			l.held[orderID][i].status = reservationCommitted
		}
	}
	return nil
}
