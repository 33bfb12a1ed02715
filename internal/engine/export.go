package engine

import (
	"PortfolioLedger/internal/persistence"
)

// ExportData merges all four state documents plus an export timestamp into
// one JSON document.
func (e *Engine) ExportData() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("export")()

	doc := persistence.ExportDocument{
		SchemaVersion: persistence.SchemaVersion,
		ExportedAt:    e.now(),
		Portfolio:     e.portfolioDocLocked(),
		Trades:        e.tradesDocLocked(),
		Snapshots:     e.snapshotsDocLocked(),
		Config:        e.configDocLocked(),
	}

	raw, err := persistence.Encode(doc)
	if err != nil {
		return "", err
	}

	e.metrics.ExportsServed.Inc()
	return raw, nil
}

// ImportData fully replaces in-memory state with the contents of an export
// document. It is a replace, not a merge. Validation happens before any
// swap: on failure the existing state is completely untouched.
func (e *Engine) ImportData(raw string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe("import")()

	doc, err := persistence.DecodeExport(raw)
	if err != nil {
		e.metrics.ImportsFailed.Inc()
		return err
	}

	e.assets.Restore(doc.Portfolio.Assets)
	e.positions.Restore(doc.Portfolio.Positions)
	e.journal.Restore(doc.Trades.Trades, doc.Portfolio.CashBalance)
	e.snapshots.Restore(doc.Snapshots.Snapshots)
	e.config.Restore(doc.Config.Config)

	e.flushPortfolio()
	e.flushTrades()
	e.flushSnapshots()
	e.flushConfig()
	e.updateGauges()

	e.metrics.ImportsApplied.Inc()
	e.log.Info().
		Int("assets", e.assets.Count()).
		Int("positions", e.positions.Count()).
		Int("trades", e.journal.Count()).
		Int("snapshots", e.snapshots.Count()).
		Msg("state imported")

	return nil
}
