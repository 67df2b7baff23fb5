package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "validation", err: NewValidationError("video_id", "is required"), want: false},
		{name: "wrapped validation", err: fmt.Errorf("decode: %w", NewValidationError("x", "bad")), want: false},
		{name: "capability", err: NewCapabilityError("analyze", errors.New("503")), want: true},
		{name: "permanent capability", err: NewPermanentCapabilityError("analyze", errors.New("unsupported codec")), want: false},
		{name: "timeout", err: fmt.Errorf("call: %w", ErrTimeout), want: true},
		{name: "unknown kind", err: ErrUnknownKind, want: false},
		{name: "unclassified", err: errors.New("boom"), want: true},
		{name: "broker unavailable", err: ErrBrokerUnavailable, want: false},
		{name: "wrapped broker unavailable", err: fmt.Errorf("fan out scrape: %w", ErrBrokerUnavailable), want: false},
		{name: "bulk broker unavailable", err: &BulkError{Failed: map[string]error{"b1:c1:tiktok": ErrBrokerUnavailable}}, want: false},
		{name: "bulk other failure", err: &BulkError{Failed: map[string]error{"b1:c1:tiktok": errors.New("oom")}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestBulkError(t *testing.T) {
	err := &BulkError{Failed: map[string]error{
		"b": ErrBrokerUnavailable,
		"a": ErrBrokerUnavailable,
	}}

	assert.Equal(t, "bulk enqueue failed for 2 job(s): a, b", err.Error())
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestBatchProgress_Percentage(t *testing.T) {
	p := &BatchProgress{TotalCreators: 4, CompletedCreators: 1, FailedCreators: 1}
	assert.Equal(t, 50, p.Percentage())

	empty := &BatchProgress{}
	assert.Equal(t, 100, empty.Percentage())
}
