// Package journal is the append-only trade and cash movement record.
// Entries are never mutated; corrections must be new records.
package journal

import (
	"errors"
	"time"

	"PortfolioLedger/internal/ident"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidSide       = errors.New("trade side must be buy or sell")
	ErrInsufficientFunds = errors.New("amount exceeds cash balance")
)

// CashSymbol tags the synthetic records appended by Deposit and Withdraw.
const CashSymbol = "CASH"

// TradeSide is the direction of a spot trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

func (s TradeSide) Valid() bool {
	return s == TradeBuy || s == TradeSell
}

// TradeRecord is one journal entry. Total is always recomputed from price
// and quantity on append.
type TradeRecord struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      TradeSide `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Total     float64   `json:"total"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
	Exchange  string    `json:"exchange,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

// Filter narrows History results. Zero-valued fields are ignored; the
// provided fields are AND-combined.
type Filter struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Limit  int
}

// Journal holds the trade log and the cash balance. Spot buy/sell records do
// not move cash; only Deposit, Withdraw and CreditCash do.
type Journal struct {
	trades []TradeRecord
	cash   float64
	ids    ident.Generator
	now    func() time.Time
	log    zerolog.Logger
}

func New(ids ident.Generator, now func() time.Time, log zerolog.Logger) *Journal {
	if now == nil {
		now = time.Now
	}
	return &Journal{
		ids: ids,
		now: now,
		log: log.With().Str("component", "trade_journal").Logger(),
	}
}

// Append assigns an id, stamps the record if needed, recomputes Total and
// appends. The returned record is the stored value.
func (j *Journal) Append(t TradeRecord) TradeRecord {
	t.ID = j.ids.NewID()
	if t.Timestamp.IsZero() {
		t.Timestamp = j.now()
	}
	t.Total = t.Price * t.Quantity
	if len(t.Tags) > 0 {
		t.Tags = append([]string(nil), t.Tags...)
	}
	j.trades = append(j.trades, t)

	j.log.Debug().
		Str("id", t.ID).
		Str("symbol", t.Symbol).
		Str("side", string(t.Side)).
		Float64("total", t.Total).
		Msg("trade recorded")

	return t
}

// History returns matching records newest-first, truncated to Limit when set.
func (j *Journal) History(f Filter) []TradeRecord {
	out := make([]TradeRecord, 0, len(j.trades))
	for i := len(j.trades) - 1; i >= 0; i-- {
		t := j.trades[i]
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if !f.Start.IsZero() && t.Timestamp.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && t.Timestamp.After(f.End) {
			continue
		}
		out = append(out, copyRecord(t))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Deposit increases cash and appends a synthetic CASH record.
func (j *Journal) Deposit(amount float64) (TradeRecord, error) {
	if amount <= 0 {
		return TradeRecord{}, ErrInvalidAmount
	}

	j.cash += amount
	rec := j.Append(TradeRecord{
		Symbol:   CashSymbol,
		Side:     TradeBuy,
		Price:    1,
		Quantity: amount,
		Notes:    "Deposit",
	})

	j.log.Info().Float64("amount", amount).Float64("cash", j.cash).Msg("deposit")
	return rec, nil
}

// Withdraw decreases cash and appends a synthetic CASH record. It fails
// without mutating anything when the amount exceeds the balance.
func (j *Journal) Withdraw(amount float64) (TradeRecord, error) {
	if amount <= 0 {
		return TradeRecord{}, ErrInvalidAmount
	}
	if amount > j.cash {
		return TradeRecord{}, ErrInsufficientFunds
	}

	j.cash -= amount
	rec := j.Append(TradeRecord{
		Symbol:   CashSymbol,
		Side:     TradeSell,
		Price:    1,
		Quantity: amount,
		Notes:    "Withdrawal",
	})

	j.log.Info().Float64("amount", amount).Float64("cash", j.cash).Msg("withdrawal")
	return rec, nil
}

// CreditCash adds directly to the cash balance. Used when closing a
// position returns margin plus realized PnL; the caller appends the closure
// trade record itself.
func (j *Journal) CreditCash(amount float64) {
	j.cash += amount
}

// Cash returns the current cash balance.
func (j *Journal) Cash() float64 {
	return j.cash
}

// Count returns the number of journal entries.
func (j *Journal) Count() int {
	return len(j.trades)
}

// All returns defensive copies of every record in append order.
func (j *Journal) All() []TradeRecord {
	out := make([]TradeRecord, 0, len(j.trades))
	for _, t := range j.trades {
		out = append(out, copyRecord(t))
	}
	return out
}

// Restore replaces the trade log and cash balance. Used for load and import
// paths.
func (j *Journal) Restore(trades []TradeRecord, cash float64) {
	j.trades = make([]TradeRecord, 0, len(trades))
	for _, t := range trades {
		j.trades = append(j.trades, copyRecord(t))
	}
	j.cash = cash
}

func copyRecord(t TradeRecord) TradeRecord {
	if len(t.Tags) > 0 {
		t.Tags = append([]string(nil), t.Tags...)
	}
	return t
}
