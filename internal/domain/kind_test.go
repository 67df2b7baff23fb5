package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Delay(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{
			name:    "fixed ignores attempt",
			backoff: Backoff{Type: BackoffFixed, Base: time.Second},
			attempt: 4,
			want:    time.Second,
		},
		{
			name:    "linear grows with attempt",
			backoff: Backoff{Type: BackoffLinear, Base: time.Second},
			attempt: 3,
			want:    3 * time.Second,
		},
		{
			name:    "exponential doubles",
			backoff: Backoff{Type: BackoffExponential, Base: time.Second},
			attempt: 4,
			want:    8 * time.Second,
		},
		{
			name:    "exponential is capped",
			backoff: Backoff{Type: BackoffExponential, Base: time.Second, Max: 5 * time.Second},
			attempt: 10,
			want:    5 * time.Second,
		},
		{
			name:    "attempt below one is treated as first",
			backoff: Backoff{Type: BackoffLinear, Base: time.Second},
			attempt: 0,
			want:    time.Second,
		},
		{
			name:    "huge attempt does not overflow",
			backoff: Backoff{Type: BackoffExponential, Base: time.Hour, Max: 2 * time.Hour},
			attempt: 200,
			want:    2 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.backoff.Delay(tt.attempt))
		})
	}
}

func TestBackoff_StrictlyIncreasingBelowCap(t *testing.T) {
	for _, typ := range []BackoffType{BackoffLinear, BackoffExponential} {
		b := Backoff{Type: typ, Base: 100 * time.Millisecond, Max: time.Hour}
		prev := time.Duration(0)
		for attempt := 1; attempt <= 8; attempt++ {
			d := b.Delay(attempt)
			assert.Greater(t, d, prev, "type %s attempt %d", typ, attempt)
			prev = d
		}
	}
}

func TestCatalog(t *testing.T) {
	for _, kind := range Kinds() {
		spec, err := Lookup(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, spec.Kind)
		assert.NotEmpty(t, spec.QueueName)
		assert.Greater(t, spec.Policy.Attempts, 0)
		assert.Greater(t, spec.Concurrency, 0)
	}

	_, err := Lookup("transcode")
	assert.ErrorIs(t, err, ErrUnknownKind)

	kind, err := ParseKind("scrape")
	require.NoError(t, err)
	assert.Equal(t, KindScrape, kind)
}

func TestKindSpec_Override(t *testing.T) {
	spec, err := Lookup(KindVideoAnalysis)
	require.NoError(t, err)

	got := spec.Override(7, 0, 30*time.Second)
	assert.Equal(t, 7, got.Concurrency)
	assert.Equal(t, spec.RateLimit.Max, got.RateLimit.Max)
	assert.Equal(t, 30*time.Second, got.RateLimit.Duration)

	// catalog entry is untouched
	again, _ := Lookup(KindVideoAnalysis)
	assert.Equal(t, spec, again)
}
