package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/media-vetting/internal/capability"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/worker"
)

// Video analyzes one video, optionally pre-screening its thumbnail first
type Video struct {
	analyzer capability.MediaAnalyzer
	screener capability.PreScreener
	logger   *slog.Logger
}

// NewVideo creates the video-analysis handler. screener may be nil to always run full analysis.
func NewVideo(analyzer capability.MediaAnalyzer, screener capability.PreScreener, logger *slog.Logger) *Video {
	return &Video{analyzer: analyzer, screener: screener, logger: logger}
}

func (h *Video) Handle(ctx context.Context, job *domain.Job, progress worker.ProgressReporter) (*domain.JobResult, error) {
	in, err := decode[domain.VideoAnalysisInput](job)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageQueued, 0, ""); err != nil {
		return nil, err
	}

	ref := capability.MediaRef{
		MediaType:    domain.MediaVideo,
		URL:          in.MediaURL,
		ThumbnailURL: in.ThumbnailURL,
		Platform:     in.Platform,
	}

	tier := in.Tier
	if h.screener != nil && !in.SkipPreScreen && in.ThumbnailURL != "" {
		if err := report(ctx, progress, domain.StagePreScreening, 10, "pre-screening thumbnail"); err != nil {
			return nil, err
		}

		verdict, err := h.screener.PreScreen(ctx, ref)
		switch {
		case err != nil:
			// the full analysis still gives an answer
			h.logger.Warn("Pre-screen failed, running full analysis",
				slog.String("job_id", job.ID),
				slog.String("video_id", in.VideoID),
				slog.String("error", err.Error()),
			)
		case !verdict.NeedsFullAnalysis:
			if err := report(ctx, progress, domain.StageComplete, 100, "full analysis not needed"); err != nil {
				return nil, err
			}
			h.logger.Info("Video cleared by pre-screen",
				slog.String("job_id", job.ID),
				slog.String("video_id", in.VideoID),
				slog.Float64("confidence", verdict.Confidence),
			)
			return &domain.JobResult{
				Video: &domain.VideoAnalysisResult{
					VideoID:     in.VideoID,
					Tier:        domain.TierLight,
					PreScreened: true,
					Confidence:  verdict.Confidence,
				},
			}, nil
		case tier == "" && verdict.RecommendedTier != "" && verdict.RecommendedTier.Valid():
			tier = verdict.RecommendedTier
		}
	}
	if tier == "" {
		tier = domain.TierStandard
	}

	if err := report(ctx, progress, domain.StageIndexing, 25, "uploading media"); err != nil {
		return nil, err
	}
	prepared, err := h.analyzer.Prepare(ctx, ref)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageAnalyzing, 50, "analyzing with tier "+string(tier)); err != nil {
		return nil, err
	}
	out, err := h.analyzer.AnalyzeMedia(ctx, prepared, tier)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageComplete, 100, ""); err != nil {
		return nil, err
	}

	return &domain.JobResult{
		Video: &domain.VideoAnalysisResult{
			VideoID:        in.VideoID,
			Tier:           tier,
			Confidence:     confidence(out),
			AnalysisOutput: *out,
		},
	}, nil
}

func confidence(out *domain.AnalysisOutput) float64 {
	if out.Classification != nil {
		return out.Classification.Confidence
	}
	return 1
}
