package domain

import (
	"encoding/json"
	"strings"
)

// Platform names accepted for creator accounts
const (
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
)

var knownPlatforms = map[string]bool{
	PlatformTikTok:    true,
	PlatformInstagram: true,
	PlatformYouTube:   true,
}

// ValidPlatform reports whether the platform is supported
func ValidPlatform(p string) bool {
	return knownPlatforms[strings.ToLower(p)]
}

// Payload is implemented by every typed job input
type Payload interface {
	Validate() error
}

// VideoAnalysisInput is the payload of a video-analysis job
type VideoAnalysisInput struct {
	BatchID       string `json:"batch_id"`
	CreatorID     string `json:"creator_id"`
	VideoID       string `json:"video_id"`
	Platform      string `json:"platform"`
	MediaURL      string `json:"media_url"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	Tier          Tier   `json:"tier,omitempty"`
	SkipPreScreen bool   `json:"skip_pre_screen,omitempty"`
}

func (in VideoAnalysisInput) Validate() error {
	if in.VideoID == "" {
		return NewValidationError("video_id", "is required")
	}
	if in.MediaURL == "" {
		return NewValidationError("media_url", "is required")
	}
	if !in.Tier.Valid() {
		return NewValidationError("tier", "must be light, standard or full")
	}
	return nil
}

// ImageAnalysisInput is the payload of an image-analysis job
type ImageAnalysisInput struct {
	BatchID   string `json:"batch_id"`
	CreatorID string `json:"creator_id"`
	ImageID   string `json:"image_id"`
	Platform  string `json:"platform"`
	MediaURL  string `json:"media_url"`
}

func (in ImageAnalysisInput) Validate() error {
	if in.ImageID == "" {
		return NewValidationError("image_id", "is required")
	}
	if in.MediaURL == "" {
		return NewValidationError("media_url", "is required")
	}
	return nil
}

// ScrapeInput is the payload of a scrape job
type ScrapeInput struct {
	BatchID    string `json:"batch_id"`
	CreatorID  string `json:"creator_id"`
	Platform   string `json:"platform"`
	Handle     string `json:"handle"`
	MonthsBack int    `json:"months_back"`
	MaxPosts   int    `json:"max_posts,omitempty"`
}

func (in ScrapeInput) Validate() error {
	if in.CreatorID == "" {
		return NewValidationError("creator_id", "is required")
	}
	if !ValidPlatform(in.Platform) {
		return NewValidationError("platform", "is not supported: "+in.Platform)
	}
	if strings.TrimSpace(in.Handle) == "" {
		return NewValidationError("handle", "is required")
	}
	if in.MonthsBack < 0 || in.MaxPosts < 0 {
		return NewValidationError("months_back", "must not be negative")
	}
	return nil
}

// Account is one platform account of a creator
type Account struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
}

// CreatorSeed is a creator submitted as part of a batch
type CreatorSeed struct {
	CreatorID string    `json:"creator_id"`
	Accounts  []Account `json:"accounts"`
}

// BatchCoordinateInput is the payload of a batch-coordinate job
type BatchCoordinateInput struct {
	BatchID    string        `json:"batch_id"`
	Creators   []CreatorSeed `json:"creators"`
	MonthsBack int           `json:"months_back"`
	MaxPosts   int           `json:"max_posts,omitempty"`
}

func (in BatchCoordinateInput) Validate() error {
	if in.BatchID == "" {
		return NewValidationError("batch_id", "is required")
	}
	for _, c := range in.Creators {
		if c.CreatorID == "" {
			return NewValidationError("creators", "contain an entry without creator_id")
		}
		for _, a := range c.Accounts {
			if !ValidPlatform(a.Platform) {
				return NewValidationError("creators", "contain unsupported platform "+a.Platform)
			}
			if strings.TrimSpace(a.Handle) == "" {
				return NewValidationError("creators", "contain an account without handle")
			}
		}
	}
	return nil
}

// BatchIDOf extracts batch_id from a raw job payload. Payloads outside a batch yield "".
func BatchIDOf(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var ref struct {
		BatchID string `json:"batch_id"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		return ""
	}
	return ref.BatchID
}
