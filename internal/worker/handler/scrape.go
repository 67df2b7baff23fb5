package handler

import (
	"context"
	"fmt"

	"github.com/cuongbtq/media-vetting/internal/capability"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/worker"
)

// Scrape fetches the recent posts of one creator account
type Scrape struct {
	scraper capability.ProfileScraper
}

func NewScrape(scraper capability.ProfileScraper) *Scrape {
	return &Scrape{scraper: scraper}
}

func (h *Scrape) Handle(ctx context.Context, job *domain.Job, progress worker.ProgressReporter) (*domain.JobResult, error) {
	in, err := decode[domain.ScrapeInput](job)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, progress, domain.StageQueued, 0, ""); err != nil {
		return nil, err
	}
	if err := report(ctx, progress, domain.StageIndexing, 10, "resolving "+in.Handle); err != nil {
		return nil, err
	}
	if err := report(ctx, progress, domain.StageAnalyzing, 30, "scraping "+in.Platform); err != nil {
		return nil, err
	}

	posts, err := h.scraper.ScrapeProfile(ctx, capability.ScrapeRequest{
		Platform:   in.Platform,
		Handle:     in.Handle,
		MonthsBack: in.MonthsBack,
		MaxPosts:   in.MaxPosts,
	})
	if err != nil {
		return nil, err
	}
	if in.MaxPosts > 0 && len(posts) > in.MaxPosts {
		posts = posts[:in.MaxPosts]
	}
	if posts == nil {
		posts = []domain.Post{}
	}

	if err := report(ctx, progress, domain.StageComplete, 100, fmt.Sprintf("%d posts", len(posts))); err != nil {
		return nil, err
	}
	return &domain.JobResult{
		Scrape: &domain.ScrapeResult{Platform: in.Platform, Handle: in.Handle, Posts: posts},
	}, nil
}
