// Package ingestion feeds external price ticks into the engine. The tick
// source publishes {symbol -> price} maps on its own schedule; transport and
// parsing are kept separate so the wire format is testable without NATS.
package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PriceTick is one parsed batch of price updates.
type PriceTick struct {
	Prices    map[string]float64
	Timestamp time.Time
}

// priceTickJSON is the wire format. Field names use snake_case to match
// upstream producers.
type priceTickJSON struct {
	Prices      map[string]float64 `json:"prices"`
	TimestampUs int64              `json:"timestamp_us"`
}

// ParsePriceTick converts tick JSON into a validated PriceTick. Two shapes
// are accepted: the enveloped form {"prices": {...}, "timestamp_us": n} and
// the bare {symbol: price} map some feeds still publish. Non-positive
// prices and empty batches are rejected.
func ParsePriceTick(data []byte) (PriceTick, error) {
	var j priceTickJSON
	if err := json.Unmarshal(data, &j); err != nil || j.Prices == nil {
		// Bare map fallback.
		var bare map[string]float64
		if bareErr := json.Unmarshal(data, &bare); bareErr != nil {
			return PriceTick{}, fmt.Errorf("parse price tick: %w", bareErr)
		}
		j = priceTickJSON{Prices: bare}
	}

	if len(j.Prices) == 0 {
		return PriceTick{}, fmt.Errorf("price tick contains no prices")
	}

	for symbol, price := range j.Prices {
		if strings.TrimSpace(symbol) == "" {
			return PriceTick{}, fmt.Errorf("price tick contains empty symbol")
		}
		if price <= 0 {
			return PriceTick{}, fmt.Errorf("non-positive price %v for %s", price, symbol)
		}
	}

	tick := PriceTick{Prices: j.Prices}
	if j.TimestampUs > 0 {
		tick.Timestamp = time.UnixMicro(j.TimestampUs)
	}
	return tick, nil
}
