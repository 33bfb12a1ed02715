// Package position manages leveraged long/short positions with margin and
// mark-to-market unrealized PnL.
package position

import (
	"errors"
	"sort"
	"time"

	"PortfolioLedger/internal/ident"

	"github.com/rs/zerolog"
)

var (
	ErrNotFound        = errors.New("position not found")
	ErrInvalidSide     = errors.New("side must be long or short")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidLeverage = errors.New("leverage must be at least 1")
	ErrInvalidMargin   = errors.New("margin must be positive")
)

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Position is an open leveraged position. UnrealizedPnL and
// UnrealizedPnLPercent are derived on every reprice; callers never set them.
// LiquidationPrice is carried through from the caller, never computed here.
type Position struct {
	ID                   string    `json:"id"`
	Symbol               string    `json:"symbol"`
	Side                 Side      `json:"side"`
	EntryPrice           float64   `json:"entry_price"`
	CurrentPrice         float64   `json:"current_price"`
	Quantity             float64   `json:"quantity"`
	Leverage             float64   `json:"leverage"`
	Margin               float64   `json:"margin"`
	UnrealizedPnL        float64   `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64   `json:"unrealized_pnl_percent"`
	StopLoss             *float64  `json:"stop_loss,omitempty"`
	TakeProfit           *float64  `json:"take_profit,omitempty"`
	LiquidationPrice     *float64  `json:"liquidation_price,omitempty"`
	OpenedAt             time.Time `json:"opened_at"`
	Exchange             string    `json:"exchange,omitempty"`
}

// OpenRequest carries the parameters for opening a position.
type OpenRequest struct {
	Symbol           string
	Side             Side
	EntryPrice       float64
	Quantity         float64
	Leverage         float64
	Margin           float64
	Exchange         string
	StopLoss         *float64
	TakeProfit       *float64
	LiquidationPrice *float64
}

// Closed describes the outcome of closing a position. CashCredit is the
// margin returned plus realized PnL.
type Closed struct {
	Position    Position
	ClosePrice  float64
	RealizedPnL float64
	CashCredit  float64
}

// Book holds all open positions keyed by opaque id.
type Book struct {
	positions map[string]*Position
	ids       ident.Generator
	now       func() time.Time
	log       zerolog.Logger
}

func NewBook(ids ident.Generator, now func() time.Time, log zerolog.Logger) *Book {
	if now == nil {
		now = time.Now
	}
	return &Book{
		positions: make(map[string]*Position),
		ids:       ids,
		now:       now,
		log:       log.With().Str("component", "position_book").Logger(),
	}
}

// Open validates the request and creates a new position with an opaque id.
// The position starts at its entry price with zero unrealized PnL.
func (b *Book) Open(req OpenRequest) (Position, error) {
	if !req.Side.Valid() {
		return Position{}, ErrInvalidSide
	}
	if req.Quantity <= 0 {
		return Position{}, ErrInvalidQuantity
	}
	if req.Leverage < 1 {
		return Position{}, ErrInvalidLeverage
	}
	if req.Margin <= 0 {
		return Position{}, ErrInvalidMargin
	}

	p := &Position{
		ID:               b.ids.NewID(),
		Symbol:           req.Symbol,
		Side:             req.Side,
		EntryPrice:       req.EntryPrice,
		CurrentPrice:     req.EntryPrice,
		Quantity:         req.Quantity,
		Leverage:         req.Leverage,
		Margin:           req.Margin,
		StopLoss:         copyLevel(req.StopLoss),
		TakeProfit:       copyLevel(req.TakeProfit),
		LiquidationPrice: copyLevel(req.LiquidationPrice),
		OpenedAt:         b.now(),
		Exchange:         req.Exchange,
	}
	b.positions[p.ID] = p

	b.log.Debug().
		Str("id", p.ID).
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Float64("margin", p.Margin).
		Msg("position opened")

	return *p, nil
}

// UpdateLevels patches only the provided stop-loss / take-profit fields.
func (b *Book) UpdateLevels(id string, stopLoss, takeProfit *float64) (Position, error) {
	p := b.positions[id]
	if p == nil {
		return Position{}, ErrNotFound
	}

	if stopLoss != nil {
		p.StopLoss = copyLevel(stopLoss)
	}
	if takeProfit != nil {
		p.TakeProfit = copyLevel(takeProfit)
	}

	return *p, nil
}

// Close removes the position and computes realized PnL:
//
//	long:  (closePrice - entryPrice) * quantity * leverage
//	short: (entryPrice - closePrice) * quantity * leverage
//
// The position is deleted, not archived; the trade record appended by the
// caller is the durable closure evidence.
func (b *Book) Close(id string, closePrice float64) (Closed, error) {
	p := b.positions[id]
	if p == nil {
		return Closed{}, ErrNotFound
	}

	pnl := realizedPnL(p.Side, p.EntryPrice, closePrice, p.Quantity, p.Leverage)
	delete(b.positions, id)

	b.log.Debug().
		Str("id", id).
		Str("symbol", p.Symbol).
		Float64("close_price", closePrice).
		Float64("realized_pnl", pnl).
		Msg("position closed")

	return Closed{
		Position:    *p,
		ClosePrice:  closePrice,
		RealizedPnL: pnl,
		CashCredit:  p.Margin + pnl,
	}, nil
}

// Reprice marks every position with a matching symbol to the new price.
// Unrealized PnL uses the close formula with the current price substituted
// for the close price; the percentage is relative to margin. Returns the
// number of positions repriced.
func (b *Book) Reprice(prices map[string]float64) int {
	updated := 0
	for _, p := range b.positions {
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		p.CurrentPrice = price
		p.UnrealizedPnL = realizedPnL(p.Side, p.EntryPrice, price, p.Quantity, p.Leverage)
		p.UnrealizedPnLPercent = p.UnrealizedPnL / p.Margin * 100
		updated++
	}
	return updated
}

// Get returns a copy of a single position.
func (b *Book) Get(id string) (Position, bool) {
	p := b.positions[id]
	if p == nil {
		return Position{}, false
	}
	return copyPosition(p), true
}

// All returns defensive copies of every open position, ordered by open time
// then id for stable output.
func (b *Book) All() []Position {
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, copyPosition(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of open positions.
func (b *Book) Count() int {
	return len(b.positions)
}

// Exposure sums margin plus unrealized PnL across all open positions.
func (b *Book) Exposure() float64 {
	var total float64
	for _, p := range b.positions {
		total += p.Margin + p.UnrealizedPnL
	}
	return total
}

// Restore replaces all positions. Used for load and import paths.
func (b *Book) Restore(positions []Position) {
	b.positions = make(map[string]*Position, len(positions))
	for i := range positions {
		p := copyPosition(&positions[i])
		b.positions[p.ID] = &p
	}
}

func realizedPnL(side Side, entry, exit, quantity, leverage float64) float64 {
	if side == SideShort {
		return (entry - exit) * quantity * leverage
	}
	return (exit - entry) * quantity * leverage
}

// copyPosition deep-copies a position so callers cannot alias the book's
// level pointers.
func copyPosition(p *Position) Position {
	out := *p
	out.StopLoss = copyLevel(p.StopLoss)
	out.TakeProfit = copyLevel(p.TakeProfit)
	out.LiquidationPrice = copyLevel(p.LiquidationPrice)
	return out
}

func copyLevel(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
