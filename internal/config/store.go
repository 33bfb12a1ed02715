// Package config holds the small set of named portfolio parameters read by
// the risk engine and the UI layer.
package config

import (
	"errors"

	"github.com/rs/zerolog"
)

var ErrInvalidTrackingMode = errors.New("tracking mode must be manual, connected or hybrid")

// TrackingMode selects how holdings are maintained.
type TrackingMode string

const (
	TrackingManual    TrackingMode = "manual"
	TrackingConnected TrackingMode = "connected"
	TrackingHybrid    TrackingMode = "hybrid"
)

func (m TrackingMode) Valid() bool {
	return m == TrackingManual || m == TrackingConnected || m == TrackingHybrid
}

// Config is loaded once at startup, mutated only via Update and persisted
// whole.
type Config struct {
	BaseCurrency       string             `json:"base_currency"`
	TrackingMode       TrackingMode       `json:"tracking_mode"`
	RiskFreeRate       float64            `json:"risk_free_rate"`
	BenchmarkSymbol    string             `json:"benchmark_symbol"`
	RebalanceThreshold float64            `json:"rebalance_threshold"`
	TargetAllocations  map[string]float64 `json:"target_allocations,omitempty"`
}

// Default returns the startup configuration used when nothing is persisted.
func Default() Config {
	return Config{
		BaseCurrency:       "USD",
		TrackingMode:       TrackingManual,
		RiskFreeRate:       0.04,
		BenchmarkSymbol:    "BTCUSD",
		RebalanceThreshold: 5,
	}
}

// Update patches only the provided fields. A nil pointer leaves the field
// unchanged; a non-nil TargetAllocations map replaces the whole map.
type Update struct {
	BaseCurrency       *string
	TrackingMode       *TrackingMode
	RiskFreeRate       *float64
	BenchmarkSymbol    *string
	RebalanceThreshold *float64
	TargetAllocations  map[string]float64
}

// Store keeps the active configuration.
type Store struct {
	cfg Config
	log zerolog.Logger
}

func NewStore(cfg Config, log zerolog.Logger) *Store {
	return &Store{
		cfg: copyConfig(cfg),
		log: log.With().Str("component", "config_store").Logger(),
	}
}

// Get returns a defensive copy of the active configuration.
func (s *Store) Get() Config {
	return copyConfig(s.cfg)
}

// Apply validates and applies a partial update, returning the resulting
// configuration.
func (s *Store) Apply(u Update) (Config, error) {
	if u.TrackingMode != nil && !u.TrackingMode.Valid() {
		return Config{}, ErrInvalidTrackingMode
	}

	if u.BaseCurrency != nil {
		s.cfg.BaseCurrency = *u.BaseCurrency
	}
	if u.TrackingMode != nil {
		s.cfg.TrackingMode = *u.TrackingMode
	}
	if u.RiskFreeRate != nil {
		s.cfg.RiskFreeRate = *u.RiskFreeRate
	}
	if u.BenchmarkSymbol != nil {
		s.cfg.BenchmarkSymbol = *u.BenchmarkSymbol
	}
	if u.RebalanceThreshold != nil {
		s.cfg.RebalanceThreshold = *u.RebalanceThreshold
	}
	if u.TargetAllocations != nil {
		s.cfg.TargetAllocations = copyAllocations(u.TargetAllocations)
	}

	s.log.Info().Interface("config", s.cfg).Msg("config updated")
	return copyConfig(s.cfg), nil
}

// Restore replaces the configuration whole. Used for load and import paths.
func (s *Store) Restore(cfg Config) {
	if !cfg.TrackingMode.Valid() {
		cfg.TrackingMode = TrackingManual
	}
	s.cfg = copyConfig(cfg)
}

func copyConfig(cfg Config) Config {
	cfg.TargetAllocations = copyAllocations(cfg.TargetAllocations)
	return cfg
}

func copyAllocations(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
