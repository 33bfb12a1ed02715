// Package risk derives time-series risk statistics from the snapshot
// history: volatility, Sharpe, Sortino, drawdown and Value-at-Risk.
//
// All functions are pure: they read the snapshot series plus the live total
// value and never touch ledger state. Annualization always uses a 365
// factor regardless of actual snapshot spacing; the engine assumes a
// roughly-daily cadence and this is a fixed assumption, not an adaptive
// one.
package risk

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"PortfolioLedger/internal/asset"
	"PortfolioLedger/internal/snapshot"
)

// periodsPerYear is the fixed annualization base.
const periodsPerYear = 365

// TopHoldingsCount bounds the holdings list in Metrics.
const TopHoldingsCount = 5

// UnknownExchange buckets untagged assets in the exchange breakdown.
const UnknownExchange = "Unknown"

// Input carries everything a metrics calculation reads.
type Input struct {
	Snapshots []snapshot.Snapshot
	Assets    []asset.Asset

	// LiveTotalValue is the current total portfolio value: spot assets,
	// cash, and open-position margin plus unrealized PnL.
	LiveTotalValue float64

	// TotalCost is the cost basis summed across spot holdings.
	TotalCost float64

	RiskFreeRate float64
	Now          time.Time
}

// Holding is one line of the top-holdings list.
type Holding struct {
	Symbol     string  `json:"symbol"`
	Value      float64 `json:"value"`
	Allocation float64 `json:"allocation"`
}

// Metrics is the full risk and performance report.
type Metrics struct {
	TotalValue      float64 `json:"total_value"`
	TotalCost       float64 `json:"total_cost"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPercent float64 `json:"total_pnl_percent"`

	DayPnL   float64 `json:"day_pnl"`
	WeekPnL  float64 `json:"week_pnl"`
	MonthPnL float64 `json:"month_pnl"`
	YearPnL  float64 `json:"year_pnl"`

	Volatility   float64 `json:"volatility"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`

	MaxDrawdown     float64 `json:"max_drawdown"`
	CurrentDrawdown float64 `json:"current_drawdown"`

	ValueAtRisk95 float64 `json:"value_at_risk_95"`
	ValueAtRisk99 float64 `json:"value_at_risk_99"`

	TopHoldings       []Holding          `json:"top_holdings"`
	ExchangeBreakdown map[string]float64 `json:"exchange_breakdown"`
}

// DailyReturns computes the simple return for each adjacent snapshot pair
// whose previous total value is positive.
func DailyReturns(snaps []snapshot.Snapshot) []float64 {
	var returns []float64
	for i := 1; i < len(snaps); i++ {
		prev := snaps[i-1].TotalValue
		if prev <= 0 {
			continue
		}
		returns = append(returns, (snaps[i].TotalValue-prev)/prev)
	}
	return returns
}

// Volatility is the annualized population standard deviation of returns,
// as a percentage. Zero with fewer than two samples.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	popVariance := stat.MomentAbout(2, returns, mean, nil)
	return math.Sqrt(popVariance) * math.Sqrt(periodsPerYear) * 100
}

// Sharpe is the annualized excess return over the risk-free rate divided by
// annualized volatility. Zero when volatility is zero or there are no
// returns.
func Sharpe(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	vol := Volatility(returns)
	if vol == 0 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	return (mean*periodsPerYear - riskFreeRate) / (vol / 100)
}

// Sortino uses the same numerator as Sharpe but divides by downside
// deviation: the annualized root mean of squared negative returns, with the
// mean taken over all returns. Zero when there are no negative returns.
func Sortino(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	var sumSqNeg float64
	hasNegative := false
	for _, r := range returns {
		if r < 0 {
			sumSqNeg += r * r
			hasNegative = true
		}
	}
	if !hasNegative {
		return 0
	}

	downside := math.Sqrt(sumSqNeg / float64(len(returns)) * periodsPerYear)
	mean := stat.Mean(returns, nil)
	return (mean*periodsPerYear - riskFreeRate) / downside
}

// MaxDrawdown walks the series chronologically tracking a running peak and
// returns the largest percentage decline from that peak.
func MaxDrawdown(snaps []snapshot.Snapshot) float64 {
	var peak, maxDD float64
	for _, s := range snaps {
		if s.TotalValue > peak {
			peak = s.TotalValue
		}
		if peak > 0 {
			dd := (peak - s.TotalValue) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CurrentDrawdown compares the running peak of the series to the live
// current total value (not the last snapshot), clamped to zero.
func CurrentDrawdown(snaps []snapshot.Snapshot, liveTotal float64) float64 {
	var peak float64
	for _, s := range snaps {
		if s.TotalValue > peak {
			peak = s.TotalValue
		}
	}
	if peak <= 0 {
		return 0
	}
	dd := (peak - liveTotal) / peak * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// ValueAtRisk picks the empirical tail return at floor((1-confidence)*N) of
// the ascending-sorted returns and scales it by the live total value into a
// currency loss. Higher confidence selects a further-left tail return, so
// VaR99 >= VaR95 in magnitude.
func ValueAtRisk(returns []float64, confidence, liveTotal float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return math.Abs(sorted[idx]) * liveTotal
}

// PeriodPnL diffs the live total value against the most recent snapshot at
// or before now-period. Exactly zero when no snapshot exists at or before
// the cutoff, so "unknown" never propagates downstream.
func PeriodPnL(snaps []snapshot.Snapshot, liveTotal float64, now time.Time, period time.Duration) float64 {
	cutoff := now.Add(-period)
	for i := len(snaps) - 1; i >= 0; i-- {
		if !snaps[i].Timestamp.After(cutoff) {
			return liveTotal - snaps[i].TotalValue
		}
	}
	return 0
}

// TopHoldings returns the largest holdings by allocation, at most
// TopHoldingsCount of them.
func TopHoldings(assets []asset.Asset) []Holding {
	sorted := append([]asset.Asset(nil), assets...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Allocation != sorted[j].Allocation {
			return sorted[i].Allocation > sorted[j].Allocation
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	n := len(sorted)
	if n > TopHoldingsCount {
		n = TopHoldingsCount
	}

	out := make([]Holding, 0, n)
	for _, a := range sorted[:n] {
		out = append(out, Holding{Symbol: a.Symbol, Value: a.Value, Allocation: a.Allocation})
	}
	return out
}

// ExchangeBreakdown groups asset value by exchange tag, bucketing untagged
// assets under UnknownExchange.
func ExchangeBreakdown(assets []asset.Asset) map[string]float64 {
	out := make(map[string]float64)
	for _, a := range assets {
		exchange := a.Exchange
		if exchange == "" {
			exchange = UnknownExchange
		}
		out[exchange] += a.Value
	}
	return out
}

// Calculate aggregates the full metrics report from one consistent view of
// the ledger.
func Calculate(in Input) Metrics {
	returns := DailyReturns(in.Snapshots)

	m := Metrics{
		TotalValue: in.LiveTotalValue,
		TotalCost:  in.TotalCost,
		TotalPnL:   in.LiveTotalValue - in.TotalCost,

		DayPnL:   PeriodPnL(in.Snapshots, in.LiveTotalValue, in.Now, 24*time.Hour),
		WeekPnL:  PeriodPnL(in.Snapshots, in.LiveTotalValue, in.Now, 7*24*time.Hour),
		MonthPnL: PeriodPnL(in.Snapshots, in.LiveTotalValue, in.Now, 30*24*time.Hour),
		YearPnL:  PeriodPnL(in.Snapshots, in.LiveTotalValue, in.Now, 365*24*time.Hour),

		Volatility:   Volatility(returns),
		SharpeRatio:  Sharpe(returns, in.RiskFreeRate),
		SortinoRatio: Sortino(returns, in.RiskFreeRate),

		MaxDrawdown:     MaxDrawdown(in.Snapshots),
		CurrentDrawdown: CurrentDrawdown(in.Snapshots, in.LiveTotalValue),

		ValueAtRisk95: ValueAtRisk(returns, 0.95, in.LiveTotalValue),
		ValueAtRisk99: ValueAtRisk(returns, 0.99, in.LiveTotalValue),

		TopHoldings:       TopHoldings(in.Assets),
		ExchangeBreakdown: ExchangeBreakdown(in.Assets),
	}

	if in.TotalCost > 0 {
		m.TotalPnLPercent = m.TotalPnL / in.TotalCost * 100
	}

	return m
}
