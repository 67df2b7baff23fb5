package domain

import "time"

// JobResult is reported for every finished job. Exactly one of the kind-specific
// fields is set on success.
type JobResult struct {
	JobID            string `json:"job_id"`
	Kind             Kind   `json:"kind"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`

	Video      *VideoAnalysisResult   `json:"video,omitempty"`
	Image      *ImageAnalysisResult   `json:"image,omitempty"`
	Scrape     *ScrapeResult          `json:"scrape,omitempty"`
	Coordinate *BatchCoordinateResult `json:"coordinate,omitempty"`
}

// Failure builds a failed result for a job
func Failure(jobID string, kind Kind, err error, elapsed time.Duration) *JobResult {
	return &JobResult{
		JobID:            jobID,
		Kind:             kind,
		Success:          false,
		Error:            err.Error(),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}

// Brand is a brand mention detected in media
type Brand struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// VisualFinding is one flagged element of the visual analysis
type VisualFinding struct {
	Label      string  `json:"label"`
	Severity   string  `json:"severity,omitempty"`
	Confidence float64 `json:"confidence"`
	OffsetMs   int64   `json:"offset_ms,omitempty"`
}

// Classification is the overall content classification of a media item
type Classification struct {
	Category   string   `json:"category"`
	RiskLevel  string   `json:"risk_level"`
	Flags      []string `json:"flags,omitempty"`
	Confidence float64  `json:"confidence"`
}

// AnalysisOutput is what the media analysis capability returns
type AnalysisOutput struct {
	Transcript     string          `json:"transcript,omitempty"`
	VisualFindings []VisualFinding `json:"visual_findings,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Brands         []Brand         `json:"brands,omitempty"`
}

// PreScreenResult is the cheap proxy verdict on whether full analysis is needed
type PreScreenResult struct {
	NeedsFullAnalysis bool    `json:"needs_full_analysis"`
	RecommendedTier   Tier    `json:"recommended_tier,omitempty"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason,omitempty"`
}

// VideoAnalysisResult is the kind-specific result of a video-analysis job
type VideoAnalysisResult struct {
	VideoID     string  `json:"video_id"`
	Tier        Tier    `json:"tier"`
	PreScreened bool    `json:"pre_screened"`
	Confidence  float64 `json:"confidence"`
	AnalysisOutput
}

// ImageAnalysisResult is the kind-specific result of an image-analysis job
type ImageAnalysisResult struct {
	ImageID string `json:"image_id"`
	AnalysisOutput
}

// MediaType distinguishes scraped posts
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaImage MediaType = "image"
)

// Post is one scraped post of a creator profile
type Post struct {
	ID           string    `json:"id"`
	MediaType    MediaType `json:"media_type"`
	MediaURL     string    `json:"media_url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	PostedAt     time.Time `json:"posted_at"`
}

// ScrapeResult is the kind-specific result of a scrape job
type ScrapeResult struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
	Posts    []Post `json:"posts"`
}

// BatchCoordinateResult is the kind-specific result of a batch-coordinate job
type BatchCoordinateResult struct {
	BatchID      string `json:"batch_id"`
	Creators     int    `json:"creators"`
	JobsEnqueued int    `json:"jobs_enqueued"`
}
