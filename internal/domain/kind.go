package domain

import (
	"fmt"
	"time"
)

// Kind identifies a job kind. The set of kinds is fixed at compile time.
type Kind string

const (
	KindVideoAnalysis   Kind = "video-analysis"
	KindImageAnalysis   Kind = "image-analysis"
	KindScrape          Kind = "scrape"
	KindBatchCoordinate Kind = "batch-coordinate"
)

// BackoffType selects how the retry delay grows with the attempt number
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes the delay before a failed job is attempted again
type Backoff struct {
	Type BackoffType
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the next attempt after the given (1-based) attempt failed
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch b.Type {
	case BackoffFixed:
		d = b.Base
	case BackoffLinear:
		d = b.Base * time.Duration(attempt)
	default:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d = b.Base * time.Duration(1<<uint(shift))
	}

	if b.Max > 0 && (d > b.Max || d < 0) {
		return b.Max
	}
	return d
}

// Policy is the admission policy applied to every job of a kind unless overridden
type Policy struct {
	Attempts           int
	Backoff            Backoff
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// RateLimit bounds how many jobs of a kind may start per window
type RateLimit struct {
	Max      int
	Duration time.Duration
}

// KindSpec is the catalog entry for one job kind
type KindSpec struct {
	Kind        Kind
	QueueName   string
	Policy      Policy
	Concurrency int
	RateLimit   RateLimit
}

var catalog = map[Kind]KindSpec{
	KindVideoAnalysis: {
		Kind:      KindVideoAnalysis,
		QueueName: "video-analysis",
		Policy: Policy{
			Attempts:           3,
			Backoff:            Backoff{Type: BackoffExponential, Base: 5 * time.Second, Max: 2 * time.Minute},
			CompletedRetention: 24 * time.Hour,
			FailedRetention:    7 * 24 * time.Hour,
		},
		Concurrency: 3,
		RateLimit:   RateLimit{Max: 10, Duration: time.Minute},
	},
	KindImageAnalysis: {
		Kind:      KindImageAnalysis,
		QueueName: "image-analysis",
		Policy: Policy{
			Attempts:           3,
			Backoff:            Backoff{Type: BackoffExponential, Base: 2 * time.Second, Max: time.Minute},
			CompletedRetention: 24 * time.Hour,
			FailedRetention:    7 * 24 * time.Hour,
		},
		Concurrency: 5,
		RateLimit:   RateLimit{Max: 30, Duration: time.Minute},
	},
	KindScrape: {
		Kind:      KindScrape,
		QueueName: "scrape",
		Policy: Policy{
			Attempts:           3,
			Backoff:            Backoff{Type: BackoffExponential, Base: 10 * time.Second, Max: 5 * time.Minute},
			CompletedRetention: 24 * time.Hour,
			FailedRetention:    7 * 24 * time.Hour,
		},
		Concurrency: 5,
		RateLimit:   RateLimit{Max: 20, Duration: time.Minute},
	},
	KindBatchCoordinate: {
		Kind:      KindBatchCoordinate,
		QueueName: "batch-coordinate",
		Policy: Policy{
			Attempts:           2,
			Backoff:            Backoff{Type: BackoffFixed, Base: 5 * time.Second, Max: 5 * time.Second},
			CompletedRetention: 7 * 24 * time.Hour,
			FailedRetention:    7 * 24 * time.Hour,
		},
		Concurrency: 2,
	},
}

// Kinds returns every kind in the catalog in a stable order
func Kinds() []Kind {
	return []Kind{KindVideoAnalysis, KindImageAnalysis, KindScrape, KindBatchCoordinate}
}

// Lookup returns the catalog entry for a kind
func Lookup(kind Kind) (KindSpec, error) {
	spec, ok := catalog[kind]
	if !ok {
		return KindSpec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return spec, nil
}

// ParseKind converts a string into a known Kind
func ParseKind(s string) (Kind, error) {
	kind := Kind(s)
	if _, err := Lookup(kind); err != nil {
		return "", err
	}
	return kind, nil
}

// Override adjusts a catalog entry with non-zero deployment settings
func (s KindSpec) Override(concurrency, rateMax int, rateWindow time.Duration) KindSpec {
	if concurrency > 0 {
		s.Concurrency = concurrency
	}
	if rateMax > 0 {
		s.RateLimit.Max = rateMax
	}
	if rateWindow > 0 {
		s.RateLimit.Duration = rateWindow
	}
	return s
}
