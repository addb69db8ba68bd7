package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to UploadStatus
		want     bool
	}{
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusError, true},
		{StatusProcessing, StatusPendingReview, true},
		{StatusProcessing, StatusUndone, false},
		{StatusCompleted, StatusUndone, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusCompleted, StatusError, false},
		{StatusPendingReview, StatusCompleted, true},
		{StatusPendingReview, StatusUndone, true},
		{StatusPendingReview, StatusProcessing, false},
		{StatusUndone, StatusCompleted, false},
		{StatusError, StatusUndone, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParseFileKind(t *testing.T) {
	k, err := ParseFileKind(" PDF ")
	assert.NoError(t, err)
	assert.Equal(t, FileKindPDF, k)

	_, err = ParseFileKind("docx")
	assert.Error(t, err)
}

func TestExtractionError_Is(t *testing.T) {
	cause := errors.New("HTTP 429")
	err := fmt.Errorf("Extract: %w", &ExtractionError{Kind: ErrRateLimited, Err: cause})

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)

	var extErr *ExtractionError
	assert.ErrorAs(t, err, &extErr)
}

func TestParseError_IsMalformed(t *testing.T) {
	err := &ParseError{Reason: "no JSON object found", Snippet: "Sorry, I cannot"}
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "Sorry, I cannot")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "abc", Snippet("abc", 5))
	assert.Equal(t, "ab...", Snippet("abcdef", 2))
}
