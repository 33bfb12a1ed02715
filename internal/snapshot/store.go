// Package snapshot stores immutable, time-ordered rollups of total
// portfolio value. The series is the only input to the risk statistics.
package snapshot

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// RetentionDays bounds the history kept in the store. Entries older than
// this relative to "now" are pruned on every insert.
const RetentionDays = 365

var ErrOutOfOrder = errors.New("snapshot timestamp not after latest")

// HoldingValue is one {symbol, value} line of a snapshot breakdown.
type HoldingValue struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
}

// Snapshot is one immutable rollup. TotalValue is spot assets plus cash;
// open-position margin and unrealized PnL are excluded from this historical
// definition.
type Snapshot struct {
	Timestamp  time.Time      `json:"timestamp"`
	TotalValue float64        `json:"total_value"`
	Cash       float64        `json:"cash"`
	Holdings   []HoldingValue `json:"holdings"`
}

// ValuePoint is one {timestamp, value} pair of the value history.
type ValuePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Store keeps snapshots in strictly ascending timestamp order.
type Store struct {
	snapshots []Snapshot
	now       func() time.Time
	log       zerolog.Logger
}

func NewStore(now func() time.Time, log zerolog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now: now,
		log: log.With().Str("component", "snapshot_store").Logger(),
	}
}

// Take appends a snapshot stamped with the current time, enforcing strictly
// ascending timestamps, then prunes entries past the retention window.
// Returns the stored snapshot and the number of entries pruned.
func (s *Store) Take(totalValue, cash float64, holdings []HoldingValue) (Snapshot, int, error) {
	ts := s.now()

	if n := len(s.snapshots); n > 0 && !s.snapshots[n-1].Timestamp.Before(ts) {
		return Snapshot{}, 0, ErrOutOfOrder
	}

	snap := Snapshot{
		Timestamp:  ts,
		TotalValue: totalValue,
		Cash:       cash,
		Holdings:   append([]HoldingValue(nil), holdings...),
	}
	s.snapshots = append(s.snapshots, snap)

	pruned := s.prune(ts)

	s.log.Debug().
		Time("timestamp", ts).
		Float64("total_value", totalValue).
		Int("pruned", pruned).
		Msg("snapshot taken")

	return copySnapshot(snap), pruned, nil
}

// ValueHistory returns {timestamp, value} pairs within [now-days, now],
// ascending.
func (s *Store) ValueHistory(days int) []ValuePoint {
	now := s.now()
	cutoff := now.AddDate(0, 0, -days)

	out := make([]ValuePoint, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		if snap.Timestamp.Before(cutoff) || snap.Timestamp.After(now) {
			continue
		}
		out = append(out, ValuePoint{Timestamp: snap.Timestamp, Value: snap.TotalValue})
	}
	return out
}

// All returns defensive copies of the full series, ascending.
func (s *Store) All() []Snapshot {
	out := make([]Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, copySnapshot(snap))
	}
	return out
}

// Latest returns the most recent snapshot.
func (s *Store) Latest() (Snapshot, bool) {
	if len(s.snapshots) == 0 {
		return Snapshot{}, false
	}
	return copySnapshot(s.snapshots[len(s.snapshots)-1]), true
}

// LatestAtOrBefore returns the most recent snapshot taken at or before t.
func (s *Store) LatestAtOrBefore(t time.Time) (Snapshot, bool) {
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if !s.snapshots[i].Timestamp.After(t) {
			return copySnapshot(s.snapshots[i]), true
		}
	}
	return Snapshot{}, false
}

// Count returns the number of stored snapshots.
func (s *Store) Count() int {
	return len(s.snapshots)
}

// Restore replaces the series, sorting ascending and dropping duplicate
// timestamps so the ordering invariant holds for imported data.
func (s *Store) Restore(snapshots []Snapshot) {
	sorted := make([]Snapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		sorted = append(sorted, copySnapshot(snap))
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	s.snapshots = nil
	for _, snap := range sorted {
		if n := len(s.snapshots); n > 0 && !s.snapshots[n-1].Timestamp.Before(snap.Timestamp) {
			s.log.Warn().
				Time("timestamp", snap.Timestamp).
				Msg("dropping snapshot with duplicate timestamp on restore")
			continue
		}
		s.snapshots = append(s.snapshots, snap)
	}
}

func (s *Store) prune(now time.Time) int {
	cutoff := now.AddDate(0, 0, -RetentionDays)
	firstKept := 0
	for firstKept < len(s.snapshots) && s.snapshots[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept == 0 {
		return 0
	}
	s.snapshots = append(s.snapshots[:0:0], s.snapshots[firstKept:]...)
	return firstKept
}

func copySnapshot(snap Snapshot) Snapshot {
	snap.Holdings = append([]HoldingValue(nil), snap.Holdings...)
	return snap
}
