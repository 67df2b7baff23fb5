package capability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		AnalysisURL: srv.URL,
		ScrapeURL:   srv.URL + "/",
		APIKey:      "secret",
		Timeout:     timeout,
	})
}

func TestClient_AnalyzeFlow(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		switch r.URL.Path {
		case "/v1/media/prepare":
			var ref MediaRef
			require.NoError(t, json.NewDecoder(r.Body).Decode(&ref))
			assert.Equal(t, "https://cdn.example.com/v.mp4", ref.URL)
			_, _ = w.Write([]byte(`{"ref":"idx-1"}`))
		case "/v1/media/analyze":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "idx-1", body["ref"])
			assert.Equal(t, "standard", body["tier"])
			_, _ = w.Write([]byte(`{"transcript":"hello","brands":[{"name":"Acme","confidence":0.9}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, time.Second)

	ctx := context.Background()
	prepared, err := client.Prepare(ctx, MediaRef{MediaType: domain.MediaVideo, URL: "https://cdn.example.com/v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "idx-1", prepared.Ref)

	out, err := client.AnalyzeMedia(ctx, prepared, domain.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Transcript)
	require.Len(t, out.Brands, 1)
	assert.Equal(t, "Acme", out.Brands[0].Name)
}

func TestClient_ScrapeProfile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/profiles/scrape", r.URL.Path)
		var req ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "youtube", req.Platform)
		assert.Equal(t, 6, req.MonthsBack)
		_, _ = w.Write([]byte(`{"posts":[{"id":"p1","media_type":"video","media_url":"https://x/1.mp4"},{"id":"p2","media_type":"image","media_url":"https://x/2.jpg"}]}`))
	}, time.Second)

	posts, err := client.ScrapeProfile(context.Background(), ScrapeRequest{Platform: "youtube", Handle: "chan", MonthsBack: 6})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, domain.MediaVideo, posts[0].MediaType)
	assert.Equal(t, domain.MediaImage, posts[1].MediaType)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusBadGateway, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"request timeout", http.StatusRequestTimeout, true},
		{"bad request", http.StatusBadRequest, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}, time.Second)

			_, err := client.PreScreen(context.Background(), MediaRef{URL: "https://x"})
			require.Error(t, err)

			var capErr *domain.CapabilityError
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, "pre-screen", capErr.Op)
			assert.Equal(t, tt.retryable, capErr.Retryable)
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
		})
	}
}

func TestClient_TimeoutIsRetryableCapabilityError(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	_, err := client.ScrapeProfile(context.Background(), ScrapeRequest{Platform: "tiktok", Handle: "h", MonthsBack: 1})
	require.Error(t, err)

	var capErr *domain.CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, capErr.Retryable)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient(Config{})

	_, err := client.ScrapeProfile(context.Background(), ScrapeRequest{Platform: "tiktok", Handle: "h"})
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

func TestClient_CallerCancellationIsNotTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.PreScreen(ctx, MediaRef{URL: "https://x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrTimeout))
	assert.ErrorIs(t, err, context.Canceled)
}
