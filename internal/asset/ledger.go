// Package asset tracks spot holdings with weighted-average-cost accounting.
package asset

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidCost     = errors.New("average cost must be positive")
)

// Asset is a single spot holding. Value, PnL, PnLPercent and Allocation are
// derived fields: the ledger recomputes them on every mutation and callers
// never set them directly.
type Asset struct {
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	AvgCost      float64   `json:"avg_cost"`
	CurrentPrice float64   `json:"current_price"`
	Value        float64   `json:"value"`
	PnL          float64   `json:"pnl"`
	PnLPercent   float64   `json:"pnl_percent"`
	Allocation   float64   `json:"allocation"`
	Exchange     string    `json:"exchange,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Ledger holds all spot positions keyed by symbol.
type Ledger struct {
	holdings map[string]*Asset
	now      func() time.Time
	log      zerolog.Logger
}

func NewLedger(now func() time.Time, log zerolog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		holdings: make(map[string]*Asset),
		now:      now,
		log:      log.With().Str("component", "asset_ledger").Logger(),
	}
}

// Add creates a holding or merges into an existing one using the
// quantity-weighted average cost:
//
//	newQty = q0 + q1
//	newAvgCost = (q0*c0 + q1*c1) / newQty
func (l *Ledger) Add(symbol string, quantity, avgCost, currentPrice float64, exchange string) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if avgCost <= 0 {
		return ErrInvalidCost
	}

	existing := l.holdings[symbol]
	if existing != nil {
		newQty := existing.Quantity + quantity
		existing.AvgCost = (existing.Quantity*existing.AvgCost + quantity*avgCost) / newQty
		existing.Quantity = newQty
		existing.CurrentPrice = currentPrice
		if exchange != "" {
			existing.Exchange = exchange
		}
		existing.LastUpdated = l.now()
		existing.recompute()
	} else {
		a := &Asset{
			Symbol:       symbol,
			Quantity:     quantity,
			AvgCost:      avgCost,
			CurrentPrice: currentPrice,
			Exchange:     exchange,
			LastUpdated:  l.now(),
		}
		a.recompute()
		l.holdings[symbol] = a
	}

	l.reallocate()

	l.log.Debug().
		Str("symbol", symbol).
		Float64("quantity", quantity).
		Float64("avg_cost", avgCost).
		Msg("asset added")

	return nil
}

// Remove deletes a holding entirely (full liquidation) and reports whether
// it existed.
func (l *Ledger) Remove(symbol string) bool {
	if _, ok := l.holdings[symbol]; !ok {
		return false
	}
	delete(l.holdings, symbol)
	l.reallocate()
	return true
}

// Reduce decrements a holding's quantity, deleting it when the result is
// zero or negative. Negative holdings are never represented. Reports whether
// the holding existed.
func (l *Ledger) Reduce(symbol string, quantity float64) bool {
	a := l.holdings[symbol]
	if a == nil {
		return false
	}

	a.Quantity -= quantity
	if a.Quantity <= 0 {
		delete(l.holdings, symbol)
	} else {
		a.LastUpdated = l.now()
		a.recompute()
	}

	l.reallocate()
	return true
}

// UpdatePrices applies a batch of price ticks. Derived fields are recomputed
// per holding, but allocations are recomputed exactly once after the whole
// batch so partial states are never observable. Returns the number of
// holdings updated.
func (l *Ledger) UpdatePrices(prices map[string]float64) int {
	updated := 0
	for symbol, price := range prices {
		a := l.holdings[symbol]
		if a == nil {
			continue
		}
		a.CurrentPrice = price
		a.LastUpdated = l.now()
		a.recompute()
		updated++
	}

	if updated > 0 {
		l.reallocate()
	}
	return updated
}

// Get returns a copy of a single holding.
func (l *Ledger) Get(symbol string) (Asset, bool) {
	a := l.holdings[symbol]
	if a == nil {
		return Asset{}, false
	}
	return *a, true
}

// All returns defensive copies of every holding, ordered by symbol.
func (l *Ledger) All() []Asset {
	out := make([]Asset, 0, len(l.holdings))
	for _, a := range l.holdings {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TotalValue sums current value across all holdings.
func (l *Ledger) TotalValue() float64 {
	var total float64
	for _, a := range l.holdings {
		total += a.Value
	}
	return total
}

// TotalCost sums cost basis (quantity * average cost) across all holdings.
func (l *Ledger) TotalCost() float64 {
	var total float64
	for _, a := range l.holdings {
		total += a.Quantity * a.AvgCost
	}
	return total
}

// Count returns the number of holdings.
func (l *Ledger) Count() int {
	return len(l.holdings)
}

// Restore replaces all holdings, recomputing every derived field.
// Used for load and import paths.
func (l *Ledger) Restore(assets []Asset) {
	l.holdings = make(map[string]*Asset, len(assets))
	for i := range assets {
		a := assets[i]
		a.recompute()
		l.holdings[a.Symbol] = &a
	}
	l.reallocate()
}

func (a *Asset) recompute() {
	a.Value = a.Quantity * a.CurrentPrice
	a.PnL = (a.CurrentPrice - a.AvgCost) * a.Quantity
	if a.AvgCost > 0 {
		a.PnLPercent = (a.CurrentPrice - a.AvgCost) / a.AvgCost * 100
	} else {
		a.PnLPercent = 0
	}
}

// reallocate recomputes allocation percentages across all holdings.
func (l *Ledger) reallocate() {
	total := l.TotalValue()
	for _, a := range l.holdings {
		if total > 0 {
			a.Allocation = a.Value / total * 100
		} else {
			a.Allocation = 0
		}
	}
}
