// Package engine is the portfolio ledger facade: one Engine instance per
// portfolio, constructed with an injected persistence store, id generator
// and clock. It serializes all access behind a single mutex and owns the
// fold rules between the trade journal, the asset ledger and the position
// book.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PortfolioLedger/internal/asset"
	"PortfolioLedger/internal/config"
	"PortfolioLedger/internal/ident"
	"PortfolioLedger/internal/journal"
	"PortfolioLedger/internal/observability"
	"PortfolioLedger/internal/persistence"
	"PortfolioLedger/internal/position"
	"PortfolioLedger/internal/risk"
	"PortfolioLedger/internal/snapshot"

	"github.com/rs/zerolog"
)

// Deps carries the injected capabilities. Zero-valued fields get safe
// defaults: an in-memory store, UUID ids, the wall clock and a throwaway
// metrics registry.
type Deps struct {
	Store   persistence.KeyValueStore
	IDs     ident.Generator
	Clock   func() time.Time
	Metrics *observability.Metrics
	Log     zerolog.Logger

	// FlushBuffer sizes the dirty-document channel drained by the flush
	// worker. Defaults to 64.
	FlushBuffer int
}

// Engine is a single-writer, in-process portfolio ledger. Every exported
// method takes the engine mutex; all returned collections are independent
// copies that callers may mutate freely.
type Engine struct {
	mu sync.Mutex

	assets    *asset.Ledger
	positions *position.Book
	journal   *journal.Journal
	snapshots *snapshot.Store
	config    *config.Store

	store   persistence.KeyValueStore
	dirty   chan persistence.Document
	now     func() time.Time
	metrics *observability.Metrics
	log     zerolog.Logger
}

// New constructs an engine and loads persisted state from the store. A
// corrupt or unparseable document is logged and treated as an empty store;
// it never fails construction.
func New(deps Deps) *Engine {
	if deps.Store == nil {
		deps.Store = persistence.NewMemoryStore()
	}
	if deps.IDs == nil {
		deps.IDs = ident.NewUUIDGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewTestMetrics()
	}
	if deps.FlushBuffer <= 0 {
		deps.FlushBuffer = 64
	}

	log := deps.Log.With().Str("component", "engine").Logger()

	e := &Engine{
		assets:    asset.NewLedger(deps.Clock, deps.Log),
		positions: position.NewBook(deps.IDs, deps.Clock, deps.Log),
		journal:   journal.New(deps.IDs, deps.Clock, deps.Log),
		snapshots: snapshot.NewStore(deps.Clock, deps.Log),
		config:    config.NewStore(config.Default(), deps.Log),
		store:     deps.Store,
		dirty:     make(chan persistence.Document, deps.FlushBuffer),
		now:       deps.Clock,
		metrics:   deps.Metrics,
		log:       log,
	}

	e.load()
	e.updateGauges()
	return e
}

// Documents exposes the dirty-document channel for the flush worker.
func (e *Engine) Documents() <-chan persistence.Document {
	return e.dirty
}

// --- AssetLedger operations ---

// AddAsset creates or merges a spot holding using weighted average cost.
func (e *Engine) AddAsset(symbol string, quantity, avgCost, currentPrice float64, exchange string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("add_asset")()

	if err := e.assets.Add(symbol, quantity, avgCost, currentPrice, exchange); err != nil {
		e.metrics.EngineOpRejected.WithLabelValues("add_asset", "validation").Inc()
		return err
	}

	e.flushPortfolio()
	e.updateGauges()
	return nil
}

// RemoveAsset deletes a holding entirely and reports whether it existed.
func (e *Engine) RemoveAsset(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("remove_asset")()

	existed := e.assets.Remove(symbol)
	if existed {
		e.flushPortfolio()
		e.updateGauges()
	}
	return existed
}

// UpdatePrices applies a batch of price ticks to both the asset ledger and
// the position book. Allocation is recomputed exactly once after the whole
// batch. Returns the number of holdings plus positions updated.
func (e *Engine) UpdatePrices(prices map[string]float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("update_prices")()

	updated := e.assets.UpdatePrices(prices)
	updated += e.positions.Reprice(prices)

	if updated > 0 {
		e.metrics.SymbolsUpdated.Add(float64(updated))
		e.flushPortfolio()
		e.updateGauges()
	}
	return updated
}

// Assets returns defensive copies of all holdings.
func (e *Engine) Assets() []asset.Asset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assets.All()
}

// --- PositionBook operations ---

// OpenPosition validates and opens a leveraged position.
func (e *Engine) OpenPosition(req position.OpenRequest) (position.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("open_position")()

	p, err := e.positions.Open(req)
	if err != nil {
		e.metrics.EngineOpRejected.WithLabelValues("open_position", "validation").Inc()
		return position.Position{}, err
	}

	e.flushPortfolio()
	e.updateGauges()
	return p, nil
}

// UpdatePositionLevels patches only the provided stop-loss / take-profit
// fields of an open position.
func (e *Engine) UpdatePositionLevels(id string, stopLoss, takeProfit *float64) (position.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("update_position_levels")()

	p, err := e.positions.UpdateLevels(id, stopLoss, takeProfit)
	if err != nil {
		return position.Position{}, err
	}

	e.flushPortfolio()
	return p, nil
}

// ClosePosition realizes the position's PnL, credits cash by margin plus
// PnL, deletes the position and appends the closure trade record with the
// opposite-of-entry side. The returned record is the durable closure
// evidence.
func (e *Engine) ClosePosition(id string, closePrice float64) (journal.TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("close_position")()

	closed, err := e.positions.Close(id, closePrice)
	if err != nil {
		return journal.TradeRecord{}, err
	}

	e.journal.CreditCash(closed.CashCredit)

	rec := e.journal.Append(closureRecord(closed))
	e.metrics.PositionsClosed.Inc()
	e.metrics.TradesRecorded.Inc()

	e.flushPortfolio()
	e.flushTrades()
	e.updateGauges()
	return rec, nil
}

// Positions returns defensive copies of all open positions.
func (e *Engine) Positions() []position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.All()
}

// --- TradeJournal operations ---

// RecordTradeRequest carries a spot trade to be journaled.
type RecordTradeRequest struct {
	Symbol   string
	Side     journal.TradeSide
	Price    float64
	Quantity float64
	Fee      float64
	Exchange string
	Notes    string
	Tags     []string
}

// RecordTrade validates, appends the record, and folds the trade into the
// asset ledger: a buy adds at the trade price as both cost and current
// price; a sell decrements the holding, clamped at zero. Spot trades do not
// move the cash balance; only deposits, withdrawals and position closes do.
func (e *Engine) RecordTrade(req RecordTradeRequest) (journal.TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("record_trade")()

	if !req.Side.Valid() {
		e.metrics.EngineOpRejected.WithLabelValues("record_trade", "side").Inc()
		return journal.TradeRecord{}, journal.ErrInvalidSide
	}
	if req.Quantity <= 0 {
		e.metrics.EngineOpRejected.WithLabelValues("record_trade", "quantity").Inc()
		return journal.TradeRecord{}, asset.ErrInvalidQuantity
	}
	if req.Price <= 0 {
		e.metrics.EngineOpRejected.WithLabelValues("record_trade", "price").Inc()
		return journal.TradeRecord{}, asset.ErrInvalidCost
	}

	switch req.Side {
	case journal.TradeBuy:
		if err := e.assets.Add(req.Symbol, req.Quantity, req.Price, req.Price, req.Exchange); err != nil {
			return journal.TradeRecord{}, err
		}
	case journal.TradeSell:
		if !e.assets.Reduce(req.Symbol, req.Quantity) {
			e.log.Debug().Str("symbol", req.Symbol).Msg("sell recorded for unheld symbol")
		}
	}

	rec := e.journal.Append(journal.TradeRecord{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    req.Price,
		Quantity: req.Quantity,
		Fee:      req.Fee,
		Exchange: req.Exchange,
		Notes:    req.Notes,
		Tags:     req.Tags,
	})
	e.metrics.TradesRecorded.Inc()

	e.flushPortfolio()
	e.flushTrades()
	e.updateGauges()
	return rec, nil
}

// TradeHistory returns matching journal records newest-first.
func (e *Engine) TradeHistory(f journal.Filter) []journal.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.journal.History(f)
}

// Deposit increases cash and appends a synthetic CASH record.
func (e *Engine) Deposit(amount float64) (journal.TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("deposit")()

	rec, err := e.journal.Deposit(amount)
	if err != nil {
		e.metrics.EngineOpRejected.WithLabelValues("deposit", "validation").Inc()
		return journal.TradeRecord{}, err
	}

	e.flushPortfolio()
	e.flushTrades()
	e.updateGauges()
	return rec, nil
}

// Withdraw decreases cash and appends a synthetic CASH record. It fails
// without any mutation when the amount exceeds the balance.
func (e *Engine) Withdraw(amount float64) (journal.TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("withdraw")()

	rec, err := e.journal.Withdraw(amount)
	if err != nil {
		e.metrics.EngineOpRejected.WithLabelValues("withdraw", "validation").Inc()
		return journal.TradeRecord{}, err
	}

	e.flushPortfolio()
	e.flushTrades()
	e.updateGauges()
	return rec, nil
}

// CashBalance returns the current cash balance.
func (e *Engine) CashBalance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.journal.Cash()
}

// --- SnapshotStore operations ---

// TakeSnapshot rolls up spot assets plus cash into a new snapshot.
// Open-position margin and unrealized PnL are deliberately excluded from
// this historical definition; the live total used by the risk metrics
// includes them.
func (e *Engine) TakeSnapshot() (snapshot.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("take_snapshot")()

	assets := e.assets.All()
	holdings := make([]snapshot.HoldingValue, 0, len(assets))
	for _, a := range assets {
		holdings = append(holdings, snapshot.HoldingValue{Symbol: a.Symbol, Value: a.Value})
	}

	snap, pruned, err := e.snapshots.Take(e.assets.TotalValue()+e.journal.Cash(), e.journal.Cash(), holdings)
	if err != nil {
		e.metrics.SnapshotRejected.Inc()
		return snapshot.Snapshot{}, err
	}

	e.metrics.SnapshotsTaken.Inc()
	if pruned > 0 {
		e.metrics.SnapshotsPruned.Add(float64(pruned))
	}

	e.flushSnapshots()
	return snap, nil
}

// ValueHistory returns {timestamp, value} pairs within the window, ascending.
func (e *Engine) ValueHistory(days int) []snapshot.ValuePoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshots.ValueHistory(days)
}

// --- RiskEngine ---

// CalculateMetrics derives the full risk and performance report from one
// consistent view of the ledger.
func (e *Engine) CalculateMetrics() risk.Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("calculate_metrics")()

	e.metrics.MetricsCalculated.Inc()

	return risk.Calculate(risk.Input{
		Snapshots:      e.snapshots.All(),
		Assets:         e.assets.All(),
		LiveTotalValue: e.liveTotalLocked(),
		TotalCost:      e.assets.TotalCost(),
		RiskFreeRate:   e.config.Get().RiskFreeRate,
		Now:            e.now(),
	})
}

// --- ConfigStore operations ---

// Config returns a copy of the active configuration.
func (e *Engine) Config() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config.Get()
}

// UpdateConfig applies a partial configuration update and persists the
// whole configuration.
func (e *Engine) UpdateConfig(u config.Update) (config.Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("update_config")()

	cfg, err := e.config.Apply(u)
	if err != nil {
		e.metrics.EngineOpRejected.WithLabelValues("update_config", "validation").Inc()
		return config.Config{}, err
	}

	e.flushConfig()
	return cfg, nil
}

// --- internals ---

// liveTotalLocked is the current total portfolio value: spot assets, cash,
// and open-position margin plus unrealized PnL. Caller holds the mutex.
func (e *Engine) liveTotalLocked() float64 {
	return e.assets.TotalValue() + e.journal.Cash() + e.positions.Exposure()
}

func closureRecord(closed position.Closed) journal.TradeRecord {
	side := journal.TradeSell
	if closed.Position.Side == position.SideShort {
		side = journal.TradeBuy
	}
	return journal.TradeRecord{
		Symbol:   closed.Position.Symbol,
		Side:     side,
		Price:    closed.ClosePrice,
		Quantity: closed.Position.Quantity,
		Exchange: closed.Position.Exchange,
		Notes:    closureNote(closed),
	}
}

func closureNote(closed position.Closed) string {
	return fmt.Sprintf("Closed %s position, PnL: %.2f", closed.Position.Side, closed.RealizedPnL)
}

func (e *Engine) observe(op string) func() {
	start := time.Now()
	e.metrics.EngineOps.WithLabelValues(op).Inc()
	return func() {
		e.metrics.EngineOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) updateGauges() {
	e.metrics.PortfolioValue.Set(e.liveTotalLocked())
	e.metrics.CashBalance.Set(e.journal.Cash())
	e.metrics.OpenPositions.Set(float64(e.positions.Count()))
	e.metrics.HeldAssets.Set(float64(e.assets.Count()))
}

// load reads the four persisted documents. Each is independent: corruption
// in one degrades that document to empty without touching the others.
func (e *Engine) load() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var cash float64

	if raw, ok := e.get(ctx, persistence.KeyPortfolio); ok {
		doc, err := persistence.DecodePortfolio(raw)
		if err != nil {
			e.corrupt(persistence.KeyPortfolio, err)
		} else {
			e.assets.Restore(doc.Assets)
			e.positions.Restore(doc.Positions)
			cash = doc.CashBalance
		}
	}

	var trades []journal.TradeRecord
	if raw, ok := e.get(ctx, persistence.KeyTrades); ok {
		doc, err := persistence.DecodeTrades(raw)
		if err != nil {
			e.corrupt(persistence.KeyTrades, err)
		} else {
			trades = doc.Trades
		}
	}
	e.journal.Restore(trades, cash)

	if raw, ok := e.get(ctx, persistence.KeySnapshots); ok {
		doc, err := persistence.DecodeSnapshots(raw)
		if err != nil {
			e.corrupt(persistence.KeySnapshots, err)
		} else {
			e.snapshots.Restore(doc.Snapshots)
		}
	}

	if raw, ok := e.get(ctx, persistence.KeyConfig); ok {
		doc, err := persistence.DecodeConfig(raw)
		if err != nil {
			e.corrupt(persistence.KeyConfig, err)
		} else {
			e.config.Restore(doc.Config)
		}
	}

	e.log.Info().
		Int("assets", e.assets.Count()).
		Int("positions", e.positions.Count()).
		Int("trades", e.journal.Count()).
		Int("snapshots", e.snapshots.Count()).
		Msg("state loaded")
}

func (e *Engine) get(ctx context.Context, key string) (string, bool) {
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil {
		e.log.Error().Err(err).Str("key", key).Msg("load failed, starting empty")
		return "", false
	}
	return raw, ok
}

func (e *Engine) corrupt(key string, err error) {
	e.log.Error().Err(err).Str("key", key).Msg("stored document corrupt, starting empty")
	e.metrics.LoadCorruptedDocs.WithLabelValues(key).Inc()
}

// flush marshals a document and queues it for the flush worker without
// blocking. A full queue is not an error: the key is re-queued by the next
// mutation, and the worker coalesces per key anyway.
func (e *Engine) flush(key string, doc any) {
	value, err := persistence.Encode(doc)
	if err != nil {
		e.log.Error().Err(err).Str("key", key).Msg("encode for flush failed")
		return
	}

	select {
	case e.dirty <- persistence.Document{Key: key, Value: value}:
	default:
		e.log.Warn().Str("key", key).Msg("flush queue full, retry on next write")
	}
}

func (e *Engine) flushPortfolio() {
	e.flush(persistence.KeyPortfolio, e.portfolioDocLocked())
}

func (e *Engine) flushTrades() {
	e.flush(persistence.KeyTrades, e.tradesDocLocked())
}

func (e *Engine) flushSnapshots() {
	e.flush(persistence.KeySnapshots, e.snapshotsDocLocked())
}

func (e *Engine) flushConfig() {
	e.flush(persistence.KeyConfig, e.configDocLocked())
}

func (e *Engine) portfolioDocLocked() persistence.PortfolioDocument {
	return persistence.PortfolioDocument{
		SchemaVersion: persistence.SchemaVersion,
		Assets:        e.assets.All(),
		Positions:     e.positions.All(),
		CashBalance:   e.journal.Cash(),
	}
}

func (e *Engine) tradesDocLocked() persistence.TradesDocument {
	return persistence.TradesDocument{
		SchemaVersion: persistence.SchemaVersion,
		Trades:        e.journal.All(),
	}
}

func (e *Engine) snapshotsDocLocked() persistence.SnapshotsDocument {
	return persistence.SnapshotsDocument{
		SchemaVersion: persistence.SchemaVersion,
		Snapshots:     e.snapshots.All(),
	}
}

func (e *Engine) configDocLocked() persistence.ConfigDocument {
	return persistence.ConfigDocument{
		SchemaVersion: persistence.SchemaVersion,
		Config:        e.config.Get(),
	}
}
