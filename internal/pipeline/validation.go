package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/invoice-ingest/internal/billing"
	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/extraction"
)

var invoiceMonthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// validatedIngest is an IngestRequest after validation and decoding.
type validatedIngest struct {
	content      []byte
	kind         domain.FileKind
	billingMonth civil.Date
}

// validateIngestRequest checks every field before any state is touched.
func validateIngestRequest(req IngestRequest) (*validatedIngest, error) {
	if !invoiceMonthPattern.MatchString(req.InvoiceMonth) {
		return nil, &domain.ValidationError{Field: "invoiceMonth", Reason: "must match YYYY-MM"}
	}
	month, err := billing.ParseMonth(req.InvoiceMonth)
	if err != nil {
		return nil, &domain.ValidationError{Field: "invoiceMonth", Reason: "not a calendar month"}
	}

	required := []struct{ field, value string }{
		{"houseId", req.HouseID},
		{"cardId", req.CardID},
		{"filename", req.Filename},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, &domain.ValidationError{Field: r.field, Reason: "is required"}
		}
	}

	kind, err := domain.ParseFileKind(req.FileKind)
	if err != nil {
		return nil, &domain.ValidationError{Field: "fileKind", Reason: err.Error()}
	}

	content, err := extraction.DecodeContent(req.FileContent, kind)
	if err != nil {
		return nil, &domain.ValidationError{Field: "fileContent", Reason: err.Error()}
	}

	return &validatedIngest{content: content, kind: kind, billingMonth: month}, nil
}

// validateApproved checks review items and normalizes their installment labels.
func validateApproved(items []domain.Candidate) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, len(items))
	for i, c := range items {
		field := "approvedTransactions"
		switch {
		case strings.TrimSpace(c.Description) == "":
			return nil, &domain.ValidationError{Field: field, Reason: indexed(i, "description is required")}
		case !c.Date.IsValid():
			return nil, &domain.ValidationError{Field: field, Reason: indexed(i, "date is required")}
		case c.Amount.IsZero():
			return nil, &domain.ValidationError{Field: field, Reason: indexed(i, "amount must not be zero")}
		}

		if strings.TrimSpace(c.Installment) != "" {
			inst, err := billing.ParseInstallment(c.Installment)
			if err != nil {
				return nil, &domain.ValidationError{Field: field, Reason: indexed(i, err.Error())}
			}
			c.Installment = inst.String()
		} else {
			c.Installment = ""
		}
		out[i] = c
	}
	return out, nil
}

func indexed(i int, reason string) string {
	return fmt.Sprintf("item %d: %s", i, reason)
}
