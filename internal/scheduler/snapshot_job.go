package scheduler

import (
	"PortfolioLedger/internal/snapshot"

	"github.com/rs/zerolog"
)

// SnapshotTaker is the slice of the engine the snapshot job needs.
type SnapshotTaker interface {
	TakeSnapshot() (snapshot.Snapshot, error)
}

// SnapshotJob rolls up total portfolio value once per retention unit,
// nominally daily.
type SnapshotJob struct {
	taker SnapshotTaker
	log   zerolog.Logger
}

func NewSnapshotJob(taker SnapshotTaker, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		taker: taker,
		log:   log.With().Str("job", "snapshot").Logger(),
	}
}

func (j *SnapshotJob) Name() string {
	return "snapshot"
}

func (j *SnapshotJob) Run() error {
	snap, err := j.taker.TakeSnapshot()
	if err != nil {
		return err
	}

	j.log.Info().
		Time("timestamp", snap.Timestamp).
		Float64("total_value", snap.TotalValue).
		Msg("snapshot taken")
	return nil
}
