// Package handler holds the job handlers run by the worker runtime. Handlers read
// only their own payload, call a capability and return a result.
package handler

import (
	"context"
	"errors"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/worker"
)

// decode unmarshals and validates the job payload
func decode[T domain.Payload](job *domain.Job) (T, error) {
	var in T
	if err := job.DecodePayload(&in); err != nil {
		return in, err
	}
	if err := in.Validate(); err != nil {
		return in, err
	}
	return in, nil
}

// report emits a progress record. Only a lost lease aborts the job; other
// failures are logged by the reporter and the job carries on.
func report(ctx context.Context, p worker.ProgressReporter, stage domain.Stage, pct int, msg string) error {
	err := p.Report(ctx, domain.JobProgress{Stage: stage, Percentage: pct, Message: msg})
	if errors.Is(err, domain.ErrLeaseLost) {
		return err
	}
	return nil
}
