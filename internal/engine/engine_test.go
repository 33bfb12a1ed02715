package engine_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PortfolioLedger/internal/config"
	"PortfolioLedger/internal/engine"
	"PortfolioLedger/internal/ident"
	"PortfolioLedger/internal/journal"
	"PortfolioLedger/internal/persistence"
	"PortfolioLedger/internal/position"
	"PortfolioLedger/internal/testutil"
)

func newEngine(t *testing.T) (*engine.Engine, *testutil.Clock, *persistence.MemoryStore) {
	t.Helper()
	clock := testutil.NewClock(testutil.BaseTime())
	store := persistence.NewMemoryStore()
	e := engine.New(engine.Deps{
		Store: store,
		IDs:   ident.NewSequentialGenerator("id"),
		Clock: clock.Now,
		Log:   zerolog.Nop(),
	})
	return e, clock, store
}

// drain applies every queued dirty document to the store, standing in for
// the flush worker.
func drain(t *testing.T, e *engine.Engine, store *persistence.MemoryStore) {
	t.Helper()
	for {
		select {
		case doc := <-e.Documents():
			if err := store.Set(context.Background(), doc.Key, doc.Value); err != nil {
				t.Fatalf("Set %s: %v", doc.Key, err)
			}
		default:
			return
		}
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func ptr(f float64) *float64 { return &f }

// ============================================================================
// Test: spot flow
// ============================================================================

func TestEngine_SpotTradeFlow(t *testing.T) {
	e, _, _ := newEngine(t)

	if _, err := e.Deposit(1000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	rec, err := e.RecordTrade(engine.RecordTradeRequest{
		Symbol:   "BTCUSD",
		Side:     journal.TradeBuy,
		Price:    50000,
		Quantity: 0.1,
	})
	if err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	if !almostEqual(rec.Total, 5000) {
		t.Errorf("trade total: got %v, want 5000", rec.Total)
	}

	// Spot trades never move cash.
	if got := e.CashBalance(); !almostEqual(got, 1000) {
		t.Errorf("cash after buy: got %v, want 1000", got)
	}

	if n := e.UpdatePrices(map[string]float64{"BTCUSD": 60000}); n != 1 {
		t.Errorf("updated: got %d, want 1", n)
	}

	assets := e.Assets()
	if len(assets) != 1 {
		t.Fatalf("assets: got %d, want 1", len(assets))
	}
	if !almostEqual(assets[0].Value, 6000) || !almostEqual(assets[0].PnL, 1000) {
		t.Errorf("holding after tick: value=%v pnl=%v, want 6000/1000", assets[0].Value, assets[0].PnL)
	}
	if math.Abs(assets[0].PnLPercent-20) > 1e-9 {
		t.Errorf("pnl percent: got %v, want 20", assets[0].PnLPercent)
	}
}

func TestEngine_RecordTradeValidation(t *testing.T) {
	e, _, _ := newEngine(t)

	if _, err := e.RecordTrade(engine.RecordTradeRequest{Symbol: "X", Side: "hold", Price: 1, Quantity: 1}); err != journal.ErrInvalidSide {
		t.Errorf("bad side: got %v, want ErrInvalidSide", err)
	}
	if _, err := e.RecordTrade(engine.RecordTradeRequest{Symbol: "X", Side: journal.TradeBuy, Price: 1, Quantity: 0}); err == nil {
		t.Error("zero quantity should be rejected")
	}
	if _, err := e.RecordTrade(engine.RecordTradeRequest{Symbol: "X", Side: journal.TradeBuy, Price: 0, Quantity: 1}); err == nil {
		t.Error("zero price should be rejected")
	}
	if len(e.TradeHistory(journal.Filter{})) != 0 {
		t.Error("rejected trades must not be journaled")
	}
}

func TestEngine_SellReducesHolding(t *testing.T) {
	e, _, _ := newEngine(t)

	e.RecordTrade(engine.RecordTradeRequest{Symbol: "ETHUSD", Side: journal.TradeBuy, Price: 3000, Quantity: 2})
	e.RecordTrade(engine.RecordTradeRequest{Symbol: "ETHUSD", Side: journal.TradeSell, Price: 3100, Quantity: 0.5})

	assets := e.Assets()
	if len(assets) != 1 || !almostEqual(assets[0].Quantity, 1.5) {
		t.Errorf("holding after partial sell: %+v", assets)
	}

	// Oversell clamps to zero and deletes, but is still journaled.
	e.RecordTrade(engine.RecordTradeRequest{Symbol: "ETHUSD", Side: journal.TradeSell, Price: 3100, Quantity: 10})
	if len(e.Assets()) != 0 {
		t.Error("oversold holding should be deleted")
	}
	if got := len(e.TradeHistory(journal.Filter{})); got != 3 {
		t.Errorf("journal entries: got %d, want 3", got)
	}
}

// ============================================================================
// Test: leveraged positions
// ============================================================================

func TestEngine_PositionLifecycle(t *testing.T) {
	e, _, _ := newEngine(t)
	e.Deposit(1000)

	p, err := e.OpenPosition(position.OpenRequest{
		Symbol:     "BTCUSD",
		Side:       position.SideLong,
		EntryPrice: 100,
		Quantity:   1,
		Leverage:   1,
		Margin:     100,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	if _, err := e.UpdatePositionLevels(p.ID, ptr(90), nil); err != nil {
		t.Fatalf("UpdatePositionLevels: %v", err)
	}

	rec, err := e.ClosePosition(p.ID, 150)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	// Close credits margin plus realized PnL.
	if got := e.CashBalance(); !almostEqual(got, 1150) {
		t.Errorf("cash after close: got %v, want 1150", got)
	}
	if len(e.Positions()) != 0 {
		t.Error("closed position should leave the book")
	}

	// The closure record carries the opposite side and the realized PnL.
	if rec.Side != journal.TradeSell {
		t.Errorf("closure side: got %q, want sell", rec.Side)
	}
	if rec.Notes != "Closed long position, PnL: 50.00" {
		t.Errorf("closure notes: got %q", rec.Notes)
	}
}

func TestEngine_UpdatePricesRepricesPositions(t *testing.T) {
	e, _, _ := newEngine(t)

	e.AddAsset("BTCUSD", 1, 100, 100, "")
	e.OpenPosition(position.OpenRequest{
		Symbol: "BTCUSD", Side: position.SideShort,
		EntryPrice: 100, Quantity: 1, Leverage: 2, Margin: 50,
	})

	if n := e.UpdatePrices(map[string]float64{"BTCUSD": 90}); n != 2 {
		t.Errorf("updated: got %d, want holding plus position", n)
	}

	positions := e.Positions()
	if !almostEqual(positions[0].UnrealizedPnL, 20) {
		t.Errorf("short upnl at 90: got %v, want 20", positions[0].UnrealizedPnL)
	}
}

// ============================================================================
// Test: snapshots and metrics
// ============================================================================

func TestEngine_SnapshotExcludesPositions(t *testing.T) {
	e, clock, _ := newEngine(t)

	e.Deposit(1000)
	e.AddAsset("BTCUSD", 1, 500, 500, "")
	e.OpenPosition(position.OpenRequest{
		Symbol: "BTCUSD", Side: position.SideLong,
		EntryPrice: 500, Quantity: 1, Leverage: 1, Margin: 200,
	})

	snap, err := e.TakeSnapshot()
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	// Snapshot total is assets plus cash; the open position's margin is not
	// part of the historical series.
	if !almostEqual(snap.TotalValue, 1500) {
		t.Errorf("snapshot total: got %v, want 1500", snap.TotalValue)
	}
	if !almostEqual(snap.Cash, 1000) {
		t.Errorf("snapshot cash: got %v, want 1000", snap.Cash)
	}

	// The live total in the metrics does include the position.
	m := e.CalculateMetrics()
	if !almostEqual(m.TotalValue, 1700) {
		t.Errorf("live total: got %v, want 1700", m.TotalValue)
	}

	// A second snapshot at the same instant is rejected.
	if _, err := e.TakeSnapshot(); err == nil {
		t.Error("same-instant snapshot should be rejected")
	}
	clock.Advance(time.Hour)
	if _, err := e.TakeSnapshot(); err != nil {
		t.Errorf("later snapshot: %v", err)
	}
}

func TestEngine_ValueHistory(t *testing.T) {
	e, clock, _ := newEngine(t)

	e.Deposit(100)
	e.TakeSnapshot()
	clock.Advance(24 * time.Hour)
	e.Deposit(50)
	e.TakeSnapshot()

	got := e.ValueHistory(7)
	if len(got) != 2 {
		t.Fatalf("history: got %d points, want 2", len(got))
	}
	if !almostEqual(got[0].Value, 100) || !almostEqual(got[1].Value, 150) {
		t.Errorf("values: got %v, %v, want 100, 150", got[0].Value, got[1].Value)
	}
}

// ============================================================================
// Test: config
// ============================================================================

func TestEngine_ConfigRoundTrip(t *testing.T) {
	e, _, _ := newEngine(t)

	if got := e.Config(); got.RiskFreeRate != 0.04 {
		t.Errorf("default risk-free rate: got %v", got.RiskFreeRate)
	}

	rate := 0.02
	cfg, err := e.UpdateConfig(config.Update{RiskFreeRate: &rate})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if cfg.RiskFreeRate != 0.02 {
		t.Errorf("updated rate: got %v", cfg.RiskFreeRate)
	}

	bad := config.TrackingMode("auto")
	if _, err := e.UpdateConfig(config.Update{TrackingMode: &bad}); err != config.ErrInvalidTrackingMode {
		t.Errorf("invalid mode: got %v, want ErrInvalidTrackingMode", err)
	}
}

// ============================================================================
// Test: persistence round trip
// ============================================================================

func TestEngine_PersistsAndReloads(t *testing.T) {
	e, clock, store := newEngine(t)

	e.Deposit(1000)
	e.RecordTrade(engine.RecordTradeRequest{Symbol: "BTCUSD", Side: journal.TradeBuy, Price: 50000, Quantity: 0.1})
	e.OpenPosition(position.OpenRequest{
		Symbol: "ETHUSD", Side: position.SideLong,
		EntryPrice: 3000, Quantity: 1, Leverage: 2, Margin: 500,
	})
	e.TakeSnapshot()
	rate := 0.01
	e.UpdateConfig(config.Update{RiskFreeRate: &rate})

	drain(t, e, store)

	// A second engine over the same store sees identical state.
	e2 := engine.New(engine.Deps{
		Store: store,
		IDs:   ident.NewSequentialGenerator("id2"),
		Clock: clock.Now,
		Log:   zerolog.Nop(),
	})

	if got := e2.CashBalance(); !almostEqual(got, 1000) {
		t.Errorf("reloaded cash: got %v, want 1000", got)
	}
	if got := e2.Assets(); len(got) != 1 || got[0].Symbol != "BTCUSD" {
		t.Errorf("reloaded assets: %+v", got)
	}
	if got := e2.Positions(); len(got) != 1 || got[0].Symbol != "ETHUSD" {
		t.Errorf("reloaded positions: %+v", got)
	}
	if got := e2.TradeHistory(journal.Filter{}); len(got) != 2 {
		t.Errorf("reloaded trades: got %d, want 2", len(got))
	}
	if got := e2.ValueHistory(7); len(got) != 1 {
		t.Errorf("reloaded snapshots: got %d, want 1", len(got))
	}
	if got := e2.Config(); got.RiskFreeRate != 0.01 {
		t.Errorf("reloaded config: got %v", got.RiskFreeRate)
	}
}

func TestEngine_CorruptDocumentStartsEmpty(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	store.Set(ctx, persistence.KeyPortfolio, "{{{not json")
	store.Set(ctx, persistence.KeyTrades, `[{"id":"t-1","symbol":"A","side":"buy","price":2,"quantity":3}]`)

	e := engine.New(engine.Deps{Store: store, Log: zerolog.Nop()})

	// The corrupt portfolio degrades to empty; the valid trades document
	// still loads.
	if len(e.Assets()) != 0 {
		t.Error("corrupt portfolio should load empty")
	}
	if got := e.TradeHistory(journal.Filter{}); len(got) != 1 || got[0].ID != "t-1" {
		t.Errorf("trades should survive portfolio corruption: %+v", got)
	}
}

// ============================================================================
// Test: export / import
// ============================================================================

func TestEngine_ExportImportRoundTrip(t *testing.T) {
	e, clock, _ := newEngine(t)

	e.Deposit(1000)
	e.RecordTrade(engine.RecordTradeRequest{Symbol: "BTCUSD", Side: journal.TradeBuy, Price: 50000, Quantity: 0.1, Tags: []string{"dca"}})
	e.OpenPosition(position.OpenRequest{
		Symbol: "SOLUSD", Side: position.SideShort,
		EntryPrice: 150, Quantity: 10, Leverage: 3, Margin: 500,
	})
	e.TakeSnapshot()

	raw, err := e.ExportData()
	if err != nil {
		t.Fatalf("ExportData: %v", err)
	}

	// Import into a fresh engine sharing the same clock.
	e2 := engine.New(engine.Deps{Clock: clock.Now, Log: zerolog.Nop()})
	if err := e2.ImportData(raw); err != nil {
		t.Fatalf("ImportData: %v", err)
	}

	if got := e2.CashBalance(); !almostEqual(got, e.CashBalance()) {
		t.Errorf("cash: got %v, want %v", got, e.CashBalance())
	}

	wantAssets, gotAssets := e.Assets(), e2.Assets()
	if len(gotAssets) != len(wantAssets) || gotAssets[0] != wantAssets[0] {
		t.Errorf("assets: got %+v, want %+v", gotAssets, wantAssets)
	}

	wantPos, gotPos := e.Positions(), e2.Positions()
	if len(gotPos) != 1 || gotPos[0].ID != wantPos[0].ID || gotPos[0].Margin != wantPos[0].Margin {
		t.Errorf("positions: got %+v, want %+v", gotPos, wantPos)
	}

	wantTrades, gotTrades := e.TradeHistory(journal.Filter{}), e2.TradeHistory(journal.Filter{})
	if len(gotTrades) != len(wantTrades) {
		t.Fatalf("trades: got %d, want %d", len(gotTrades), len(wantTrades))
	}
	for i := range wantTrades {
		if gotTrades[i].ID != wantTrades[i].ID || gotTrades[i].Total != wantTrades[i].Total {
			t.Errorf("trade %d: got %+v, want %+v", i, gotTrades[i], wantTrades[i])
		}
	}

	if got, want := e2.ValueHistory(7), e.ValueHistory(7); len(got) != len(want) || got[0] != want[0] {
		t.Errorf("value history: got %+v, want %+v", got, want)
	}
}

func TestEngine_ImportIsReplaceNotMerge(t *testing.T) {
	e, clock, _ := newEngine(t)
	e.Deposit(100)
	e.AddAsset("OLD", 1, 1, 1, "")
	raw, _ := e.ExportData()

	e2 := engine.New(engine.Deps{Clock: clock.Now, Log: zerolog.Nop()})
	e2.Deposit(9999)
	e2.AddAsset("KEEPME", 1, 1, 1, "")

	if err := e2.ImportData(raw); err != nil {
		t.Fatalf("ImportData: %v", err)
	}

	assets := e2.Assets()
	if len(assets) != 1 || assets[0].Symbol != "OLD" {
		t.Errorf("import must replace holdings: %+v", assets)
	}
	if got := e2.CashBalance(); !almostEqual(got, 100) {
		t.Errorf("import must replace cash: got %v, want 100", got)
	}
}

func TestEngine_ImportFailureLeavesStateUntouched(t *testing.T) {
	e, _, _ := newEngine(t)
	e.Deposit(500)
	e.AddAsset("BTCUSD", 1, 100, 100, "")

	for _, raw := range []string{"not json", `{"portfolio":{}}`, `{"schema_version":99,"portfolio":{},"trades":{},"snapshots":{},"config":{}}`} {
		if err := e.ImportData(raw); err == nil {
			t.Errorf("ImportData(%q) should fail", raw)
		}
	}

	if got := e.CashBalance(); !almostEqual(got, 500) {
		t.Errorf("cash after failed imports: got %v, want 500", got)
	}
	if got := e.Assets(); len(got) != 1 || got[0].Symbol != "BTCUSD" {
		t.Errorf("assets after failed imports: %+v", got)
	}
}
