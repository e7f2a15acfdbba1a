package cron

import (
	"context"
	"fmt"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
)

const defaultReleaseBatch = 200

type holdReleaser interface {
	ReleaseMatured(ctx context.Context, limit int) (int, error)
}

// NewHoldReleaseJob builds the sweep that moves matured held ledger rows to
// processing and initiates the provider transfers.
func NewHoldReleaseJob(logg *logger.Logger, releaser holdReleaser, batchSize int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if releaser == nil {
		return nil, fmt.Errorf("hold releaser required")
	}
	if batchSize <= 0 {
		batchSize = defaultReleaseBatch
	}
	return &holdReleaseJob{logg: logg, releaser: releaser, batchSize: batchSize}, nil
}

type holdReleaseJob struct {
	logg      *logger.Logger
	releaser  holdReleaser
	batchSize int
}

func (j *holdReleaseJob) Name() string { return "hold-release" }

func (j *holdReleaseJob) Run(ctx context.Context) error {
	released, err := j.releaser.ReleaseMatured(ctx, j.batchSize)
	logCtx := j.logg.WithField(ctx, "released", released)
	j.logg.Info(logCtx, "hold maturation sweep complete")
	return err
}
