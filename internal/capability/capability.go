// Package capability is the boundary to the external analysis and scraping providers.
package capability

import (
	"context"

	"github.com/cuongbtq/media-vetting/internal/domain"
)

// MediaRef points at one media item on a creator platform
type MediaRef struct {
	MediaType    domain.MediaType `json:"media_type"`
	URL          string           `json:"media_url"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
	Platform     string           `json:"platform,omitempty"`
}

// PreparedMedia is the provider's handle for media that was uploaded and indexed
type PreparedMedia struct {
	Ref string `json:"ref"`
}

// MediaAnalyzer runs the provider's media understanding
type MediaAnalyzer interface {
	// Prepare registers the media with the provider before analysis
	Prepare(ctx context.Context, media MediaRef) (*PreparedMedia, error)
	AnalyzeMedia(ctx context.Context, media *PreparedMedia, tier domain.Tier) (*domain.AnalysisOutput, error)
}

// PreScreener makes the cheap decision whether full analysis is needed
type PreScreener interface {
	PreScreen(ctx context.Context, media MediaRef) (*domain.PreScreenResult, error)
}

// ScrapeRequest selects the posts to fetch for one account
type ScrapeRequest struct {
	Platform   string `json:"platform"`
	Handle     string `json:"handle"`
	MonthsBack int    `json:"months_back"`
	MaxPosts   int    `json:"max_posts,omitempty"`
}

// ProfileScraper fetches recent posts of a creator account
type ProfileScraper interface {
	ScrapeProfile(ctx context.Context, req ScrapeRequest) ([]domain.Post, error)
}
