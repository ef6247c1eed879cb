package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/croneye/croneye/internal/jobrun"
)

// NullStore is the provider used when no persistence backend is configured.
// Reads return empty or zero-valued results, writes are discarded, and every
// call logs a warning so silent data loss stays observable.
type NullStore struct {
	logger zerolog.Logger
}

// NewNullStore creates a NullStore.
func NewNullStore(logger zerolog.Logger) *NullStore {
	return &NullStore{logger: logger}
}

func (n *NullStore) warn(op string) {
	n.logger.Warn().Str("op", op).Msg("no run store configured, run history is discarded")
}

func (n *NullStore) SaveJobRun(_ context.Context, run *jobrun.JobRun) error {
	n.warn("save")
	_ = run
	return nil
}

func (n *NullStore) ListJobRuns(_ context.Context, _ Filter) ([]*jobrun.JobRun, error) {
	n.warn("list")
	return nil, nil
}

func (n *NullStore) GetJobRunStats(_ context.Context, _ jobrun.JobKey, _, _ *time.Time) (*jobrun.JobRunStats, error) {
	n.warn("stats")
	return &jobrun.JobRunStats{}, nil
}

func (n *NullStore) PurgeJobRuns(_ context.Context, _ jobrun.JobKey, _ time.Time) (int64, error) {
	n.warn("purge")
	return 0, nil
}
