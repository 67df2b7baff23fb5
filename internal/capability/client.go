package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
)

// DefaultTimeout is the per-call deadline when none is configured
const DefaultTimeout = 2 * time.Minute

// Config holds the provider endpoints
type Config struct {
	AnalysisURL string
	ScrapeURL   string
	APIKey      string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Client talks JSON over HTTP to the analysis and scraping providers
type Client struct {
	analysisURL string
	scrapeURL   string
	apiKey      string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

var (
	_ MediaAnalyzer  = (*Client)(nil)
	_ PreScreener    = (*Client)(nil)
	_ ProfileScraper = (*Client)(nil)
)

// NewClient creates a provider client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		analysisURL: strings.TrimRight(cfg.AnalysisURL, "/"),
		scrapeURL:   strings.TrimRight(cfg.ScrapeURL, "/"),
		apiKey:      cfg.APIKey,
		timeout:     timeout,
		httpClient:  &http.Client{},
		logger:      logger,
	}
}

func (c *Client) Prepare(ctx context.Context, media MediaRef) (*PreparedMedia, error) {
	var out PreparedMedia
	if err := c.call(ctx, "prepare", c.analysisURL, "/v1/media/prepare", media, &out); err != nil {
		return nil, err
	}
	if out.Ref == "" {
		return nil, domain.NewCapabilityError("prepare", errors.New("provider returned an empty media ref"))
	}
	return &out, nil
}

func (c *Client) AnalyzeMedia(ctx context.Context, media *PreparedMedia, tier domain.Tier) (*domain.AnalysisOutput, error) {
	req := struct {
		Ref  string      `json:"ref"`
		Tier domain.Tier `json:"tier"`
	}{Ref: media.Ref, Tier: tier}

	var out domain.AnalysisOutput
	if err := c.call(ctx, "analyze", c.analysisURL, "/v1/media/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PreScreen(ctx context.Context, media MediaRef) (*domain.PreScreenResult, error) {
	var out domain.PreScreenResult
	if err := c.call(ctx, "pre-screen", c.analysisURL, "/v1/media/prescreen", media, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ScrapeProfile(ctx context.Context, req ScrapeRequest) ([]domain.Post, error) {
	var out struct {
		Posts []domain.Post `json:"posts"`
	}
	if err := c.call(ctx, "scrape", c.scrapeURL, "/v1/profiles/scrape", req, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

// call posts body as JSON and decodes the response into out under the per-call deadline.
// Failures come back as *domain.CapabilityError; 4xx answers other than 408 and 429 are permanent.
func (c *Client) call(ctx context.Context, op, baseURL, path string, body, out any) error {
	if baseURL == "" {
		return domain.NewPermanentCapabilityError(op, errors.New("provider url is not configured"))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.NewPermanentCapabilityError(op, fmt.Errorf("marshal request: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.NewPermanentCapabilityError(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.NewCapabilityError(op, fmt.Errorf("%w after %s", domain.ErrTimeout, c.timeout))
		}
		return domain.NewCapabilityError(op, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.NewCapabilityError(op, fmt.Errorf("%w after %s", domain.ErrTimeout, c.timeout))
		}
		return domain.NewCapabilityError(op, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("Capability call finished",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := fmt.Errorf("provider error: %s - %s", resp.Status, truncate(string(respBody), 256))
		if permanentStatus(resp.StatusCode) {
			return domain.NewPermanentCapabilityError(op, statusErr)
		}
		return domain.NewCapabilityError(op, statusErr)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return domain.NewCapabilityError(op, fmt.Errorf("unmarshal response: %w", err))
		}
	}
	return nil
}

func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
