package handler

import (
	"context"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/worker"
)

// BatchSeeder seeds a batch and fans out its first jobs
type BatchSeeder interface {
	Seed(ctx context.Context, in domain.BatchCoordinateInput) (*domain.BatchCoordinateResult, error)
}

// Coordinate runs batch seeding as a job so large batches are admitted off the request path
type Coordinate struct {
	seeder BatchSeeder
}

func NewCoordinate(seeder BatchSeeder) *Coordinate {
	return &Coordinate{seeder: seeder}
}

func (h *Coordinate) Handle(ctx context.Context, job *domain.Job, progress worker.ProgressReporter) (*domain.JobResult, error) {
	in, err := decode[domain.BatchCoordinateInput](job)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageQueued, 0, ""); err != nil {
		return nil, err
	}
	if err := report(ctx, progress, domain.StageIndexing, 20, "seeding batch"); err != nil {
		return nil, err
	}

	result, err := h.seeder.Seed(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageComplete, 100, ""); err != nil {
		return nil, err
	}
	return &domain.JobResult{Coordinate: result}, nil
}
