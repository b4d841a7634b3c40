package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fhe-autopay/internal/records"
)

const refreshJobName = "records_refresh"

type refresher interface {
	Refresh(ctx context.Context) ([]records.Record, error)
}

// RefreshJob re-reads the ledger into the record store so records written by
// other instances or parties become visible without a user action.
type RefreshJob struct {
	store refresher
}

// NewRefreshJob wires the job to the record store.
func NewRefreshJob(store refresher) (*RefreshJob, error) {
	if store == nil {
		return nil, fmt.Errorf("record store required")
	}
	return &RefreshJob{store: store}, nil
}

func (j *RefreshJob) Name() string { return refreshJobName }

func (j *RefreshJob) Run(ctx context.Context) error {
	if _, err := j.store.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh records: %w", err)
	}
	return nil
}
