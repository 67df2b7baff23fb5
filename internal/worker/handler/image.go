package handler

import (
	"context"

	"github.com/cuongbtq/media-vetting/internal/capability"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/worker"
)

// Image analyzes one image post
type Image struct {
	analyzer capability.MediaAnalyzer
}

func NewImage(analyzer capability.MediaAnalyzer) *Image {
	return &Image{analyzer: analyzer}
}

func (h *Image) Handle(ctx context.Context, job *domain.Job, progress worker.ProgressReporter) (*domain.JobResult, error) {
	in, err := decode[domain.ImageAnalysisInput](job)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageQueued, 0, ""); err != nil {
		return nil, err
	}
	if err := report(ctx, progress, domain.StageIndexing, 20, "uploading image"); err != nil {
		return nil, err
	}
	prepared, err := h.analyzer.Prepare(ctx, capability.MediaRef{
		MediaType: domain.MediaImage,
		URL:       in.MediaURL,
		Platform:  in.Platform,
	})
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageAnalyzing, 50, ""); err != nil {
		return nil, err
	}
	out, err := h.analyzer.AnalyzeMedia(ctx, prepared, domain.TierStandard)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageComplete, 100, ""); err != nil {
		return nil, err
	}
	return &domain.JobResult{
		Image: &domain.ImageAnalysisResult{ImageID: in.ImageID, AnalysisOutput: *out},
	}, nil
}
