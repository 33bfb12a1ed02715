package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PortfolioLedger/internal/asset"
	"PortfolioLedger/internal/config"
	"PortfolioLedger/internal/journal"
	"PortfolioLedger/internal/position"
	"PortfolioLedger/internal/snapshot"
)

// Store keys for the four independent state documents.
const (
	KeyPortfolio = "portfolio"
	KeyTrades    = "trades"
	KeySnapshots = "snapshots"
	KeyConfig    = "config"
)

// SchemaVersion is the current document schema. Version 0 is the legacy
// shape inherited from the browser build: bare arrays and objects without a
// schema_version field. Decoding migrates v0 to the current version.
const SchemaVersion = 1

// PortfolioDocument holds spot holdings, open positions and the cash
// balance.
type PortfolioDocument struct {
	SchemaVersion int                 `json:"schema_version"`
	Assets        []asset.Asset       `json:"assets"`
	Positions     []position.Position `json:"positions"`
	CashBalance   float64             `json:"cash_balance"`
}

// TradesDocument holds the append-only trade journal.
type TradesDocument struct {
	SchemaVersion int                   `json:"schema_version"`
	Trades        []journal.TradeRecord `json:"trades"`
}

// SnapshotsDocument holds the value snapshot series.
type SnapshotsDocument struct {
	SchemaVersion int                 `json:"schema_version"`
	Snapshots     []snapshot.Snapshot `json:"snapshots"`
}

// ConfigDocument holds the portfolio configuration.
type ConfigDocument struct {
	SchemaVersion int           `json:"schema_version"`
	Config        config.Config `json:"config"`
}

// ExportDocument merges all four documents plus an export timestamp.
type ExportDocument struct {
	SchemaVersion int               `json:"schema_version"`
	ExportedAt    time.Time         `json:"exported_at"`
	Portfolio     PortfolioDocument `json:"portfolio"`
	Trades        TradesDocument    `json:"trades"`
	Snapshots     SnapshotsDocument `json:"snapshots"`
	Config        ConfigDocument    `json:"config"`
}

// Encode marshals any document to the stored string form.
func Encode(doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(data), nil
}

// DecodePortfolio parses a stored portfolio document, migrating legacy v0
// payloads (no schema_version field) in place.
func DecodePortfolio(raw string) (PortfolioDocument, error) {
	var doc PortfolioDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return PortfolioDocument{}, fmt.Errorf("parse portfolio document: %w", err)
	}
	if err := checkVersion(doc.SchemaVersion); err != nil {
		return PortfolioDocument{}, err
	}
	doc.SchemaVersion = SchemaVersion
	return doc, nil
}

// DecodeTrades parses a stored trades document. Legacy v0 payloads were a
// bare JSON array of records.
func DecodeTrades(raw string) (TradesDocument, error) {
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var trades []journal.TradeRecord
		if err := json.Unmarshal([]byte(raw), &trades); err != nil {
			return TradesDocument{}, fmt.Errorf("parse legacy trades document: %w", err)
		}
		return TradesDocument{SchemaVersion: SchemaVersion, Trades: trades}, nil
	}

	var doc TradesDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return TradesDocument{}, fmt.Errorf("parse trades document: %w", err)
	}
	if err := checkVersion(doc.SchemaVersion); err != nil {
		return TradesDocument{}, err
	}
	doc.SchemaVersion = SchemaVersion
	return doc, nil
}

// DecodeSnapshots parses a stored snapshots document. Legacy v0 payloads
// were a bare JSON array of snapshots.
func DecodeSnapshots(raw string) (SnapshotsDocument, error) {
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var snaps []snapshot.Snapshot
		if err := json.Unmarshal([]byte(raw), &snaps); err != nil {
			return SnapshotsDocument{}, fmt.Errorf("parse legacy snapshots document: %w", err)
		}
		return SnapshotsDocument{SchemaVersion: SchemaVersion, Snapshots: snaps}, nil
	}

	var doc SnapshotsDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return SnapshotsDocument{}, fmt.Errorf("parse snapshots document: %w", err)
	}
	if err := checkVersion(doc.SchemaVersion); err != nil {
		return SnapshotsDocument{}, err
	}
	doc.SchemaVersion = SchemaVersion
	return doc, nil
}

// DecodeConfig parses a stored config document. Legacy v0 payloads were the
// bare config object.
func DecodeConfig(raw string) (ConfigDocument, error) {
	var doc ConfigDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ConfigDocument{}, fmt.Errorf("parse config document: %w", err)
	}

	if doc.SchemaVersion == 0 && doc.Config.TrackingMode == "" {
		// Legacy bare object: the fields live at the top level.
		var cfg config.Config
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return ConfigDocument{}, fmt.Errorf("parse legacy config document: %w", err)
		}
		return ConfigDocument{SchemaVersion: SchemaVersion, Config: cfg}, nil
	}

	if err := checkVersion(doc.SchemaVersion); err != nil {
		return ConfigDocument{}, err
	}
	doc.SchemaVersion = SchemaVersion
	return doc, nil
}

// DecodeExport parses an export document, validating that every expected
// top-level section is present before any state swap happens.
func DecodeExport(raw string) (ExportDocument, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return ExportDocument{}, fmt.Errorf("parse export document: %w", err)
	}
	for _, key := range []string{"portfolio", "trades", "snapshots", "config"} {
		if _, ok := probe[key]; !ok {
			return ExportDocument{}, fmt.Errorf("export document missing %q section", key)
		}
	}

	var doc ExportDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ExportDocument{}, fmt.Errorf("parse export document: %w", err)
	}
	if err := checkVersion(doc.SchemaVersion); err != nil {
		return ExportDocument{}, err
	}
	doc.SchemaVersion = SchemaVersion
	return doc, nil
}

func checkVersion(v int) error {
	if v > SchemaVersion {
		return fmt.Errorf("document schema version %d is newer than supported %d", v, SchemaVersion)
	}
	return nil
}
