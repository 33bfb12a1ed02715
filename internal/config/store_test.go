package config_test

import (
	"testing"

	"github.com/rs/zerolog"

	"PortfolioLedger/internal/config"
)

func ptrF(f float64) *float64 { return &f }

func ptrM(m config.TrackingMode) *config.TrackingMode { return &m }

func TestDefault(t *testing.T) {
	cfg := config.Default()

	if cfg.BaseCurrency != "USD" {
		t.Errorf("base currency: got %q, want USD", cfg.BaseCurrency)
	}
	if cfg.TrackingMode != config.TrackingManual {
		t.Errorf("tracking mode: got %q, want manual", cfg.TrackingMode)
	}
	if cfg.RiskFreeRate != 0.04 {
		t.Errorf("risk-free rate: got %v, want 0.04", cfg.RiskFreeRate)
	}
	if cfg.BenchmarkSymbol != "BTCUSD" {
		t.Errorf("benchmark: got %q, want BTCUSD", cfg.BenchmarkSymbol)
	}
	if cfg.RebalanceThreshold != 5 {
		t.Errorf("rebalance threshold: got %v, want 5", cfg.RebalanceThreshold)
	}
}

func TestStore_ApplyPatchesOnlyProvidedFields(t *testing.T) {
	s := config.NewStore(config.Default(), zerolog.Nop())

	got, err := s.Apply(config.Update{
		RiskFreeRate: ptrF(0.05),
		TrackingMode: ptrM(config.TrackingHybrid),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.RiskFreeRate != 0.05 {
		t.Errorf("risk-free rate: got %v, want 0.05", got.RiskFreeRate)
	}
	if got.TrackingMode != config.TrackingHybrid {
		t.Errorf("tracking mode: got %q, want hybrid", got.TrackingMode)
	}
	if got.BaseCurrency != "USD" || got.BenchmarkSymbol != "BTCUSD" {
		t.Errorf("untouched fields changed: %+v", got)
	}
}

func TestStore_ApplyRejectsInvalidTrackingMode(t *testing.T) {
	s := config.NewStore(config.Default(), zerolog.Nop())

	_, err := s.Apply(config.Update{
		TrackingMode: ptrM("automatic"),
		RiskFreeRate: ptrF(0.99),
	})
	if err != config.ErrInvalidTrackingMode {
		t.Fatalf("got %v, want ErrInvalidTrackingMode", err)
	}

	// A rejected update must not partially apply.
	if got := s.Get(); got.RiskFreeRate != 0.04 {
		t.Errorf("risk-free rate after rejected update: got %v, want 0.04", got.RiskFreeRate)
	}
}

func TestStore_ApplyReplacesAllocationsWhole(t *testing.T) {
	s := config.NewStore(config.Default(), zerolog.Nop())

	s.Apply(config.Update{TargetAllocations: map[string]float64{"BTCUSD": 60, "ETHUSD": 40}})
	got, _ := s.Apply(config.Update{TargetAllocations: map[string]float64{"BTCUSD": 100}})

	if len(got.TargetAllocations) != 1 || got.TargetAllocations["BTCUSD"] != 100 {
		t.Errorf("allocations must replace, not merge: %v", got.TargetAllocations)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := config.NewStore(config.Default(), zerolog.Nop())
	s.Apply(config.Update{TargetAllocations: map[string]float64{"BTCUSD": 100}})

	cfg := s.Get()
	cfg.TargetAllocations["BTCUSD"] = 1

	if got := s.Get(); got.TargetAllocations["BTCUSD"] != 100 {
		t.Error("mutating Get() result must not affect store state")
	}
}

func TestStore_RestoreNormalizesTrackingMode(t *testing.T) {
	s := config.NewStore(config.Default(), zerolog.Nop())

	s.Restore(config.Config{BaseCurrency: "EUR", TrackingMode: "bogus"})

	got := s.Get()
	if got.BaseCurrency != "EUR" {
		t.Errorf("base currency: got %q, want EUR", got.BaseCurrency)
	}
	if got.TrackingMode != config.TrackingManual {
		t.Errorf("invalid restored mode must fall back to manual, got %q", got.TrackingMode)
	}
}
