package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// UploadStatus is the lifecycle state of an upload record.
type UploadStatus string

const (
	StatusProcessing    UploadStatus = "processing"
	StatusCompleted     UploadStatus = "completed"
	StatusError         UploadStatus = "error"
	StatusPendingReview UploadStatus = "pending_review"
	StatusUndone        UploadStatus = "undone"
)

var transitions = map[UploadStatus][]UploadStatus{
	StatusProcessing:    {StatusCompleted, StatusError, StatusPendingReview},
	StatusCompleted:     {StatusUndone},
	StatusPendingReview: {StatusCompleted, StatusUndone},
}

// CanTransition reports whether moving from s to next is a valid lifecycle step.
// Review on a completed upload keeps it completed and is allowed too.
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	if s == StatusCompleted && next == StatusCompleted {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further user action changes the record.
func (s UploadStatus) Terminal() bool {
	return s == StatusError || s == StatusUndone
}

// FileKind identifies how the uploaded content is encoded.
type FileKind string

const (
	FileKindPDF   FileKind = "pdf"
	FileKindExcel FileKind = "excel"
	FileKindCSV   FileKind = "csv"
)

// ParseFileKind validates a user supplied file kind.
func ParseFileKind(s string) (FileKind, error) {
	switch k := FileKind(strings.ToLower(strings.TrimSpace(s))); k {
	case FileKindPDF, FileKindExcel, FileKindCSV:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported file kind %q", s)
	}
}

// Upload is the audit record of one ingestion attempt.
type Upload struct {
	ID           string       `json:"id"`
	HouseID      string       `json:"houseId"`
	CardID       string       `json:"cardId"`
	Filename     string       `json:"filename"`
	FileKind     FileKind     `json:"fileKind"`
	BillingMonth civil.Date   `json:"billingMonth"`
	ItemsCount   int          `json:"itemsCount"`
	Status       UploadStatus `json:"status"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	ArchiveURI   string       `json:"archiveUri,omitempty"`
	CreatedBy    string       `json:"createdBy"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// ModelOutput keeps the raw extractor response of an upload for auditing.
type ModelOutput struct {
	ID           string    `json:"id"`
	UploadID     string    `json:"uploadId"`
	Model        string    `json:"model"`
	RawText      string    `json:"rawText"`
	TokensInput  int64     `json:"tokensInput"`
	TokensOutput int64     `json:"tokensOutput"`
	CreatedAt    time.Time `json:"createdAt"`
}
