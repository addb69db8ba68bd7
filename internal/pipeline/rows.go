package pipeline

import (
	"fmt"
	"strings"

	"github.com/dvloznov/invoice-ingest/internal/billing"
	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// buildRows turns accepted candidates into transactions of the upload.
// Each row gets the billing month of its own date; installment rows are followed
// by their projections, which share a recurrence group with the original.
// It returns the rows, the number of projections and the number of deferred purchases.
func (m *Manager) buildRows(upload *domain.Upload, card *domain.Card, candidates []domain.Candidate) ([]domain.Transaction, int, int) {
	closingDay := billing.ClosingDayOr(card, m.opts.DefaultClosingDay)
	now := m.now()

	rows := make([]domain.Transaction, 0, len(candidates))
	projected, deferred := 0, 0

	for _, c := range candidates {
		tx := domain.Transaction{
			ID:          m.newID(),
			HouseID:     upload.HouseID,
			CardID:      upload.CardID,
			UploadID:    upload.ID,
			Description: c.Description,
			Date:        c.Date,
			Amount:      c.Amount.Abs(),
			Type:        domain.TypeExpense,
			Installment: c.Installment,
			Category:    c.Category,
			CreatedAt:   now,
		}
		if c.Amount.IsNegative() {
			tx.Type = domain.TypeIncome
		}
		if strings.TrimSpace(tx.Category) == "" {
			tx.Category = domain.Unclassified
		}

		var late bool
		tx.BillingMonth, late = billing.BillingMonth(tx.Date, closingDay)
		if late {
			deferred++
		}

		future := billing.Project(tx, closingDay)
		if len(future) > 0 {
			tx.RecurrenceGroup = m.newID()
			for i := range future {
				future[i].ID = m.newID()
				future[i].RecurrenceGroup = tx.RecurrenceGroup
			}
		}

		rows = append(rows, tx)
		rows = append(rows, future...)
		projected += len(future)
	}
	return rows, projected, deferred
}

func ingestMessage(resp *IngestResponse, extracted int) string {
	if extracted == 0 {
		return "No transactions were found in the file."
	}

	parts := []string{fmt.Sprintf("Imported %d transaction(s).", resp.ItemsCount)}
	if resp.Status == domain.StatusPendingReview {
		parts[0] = "No new transactions were imported."
	}
	if n := len(resp.PossibleDuplicates); n > 0 {
		parts = append(parts, fmt.Sprintf("%d possible duplicate(s) need your review.", n))
	}
	return strings.Join(append(parts, detailMessages(resp)...), " ")
}

func reviewMessage(resp *IngestResponse) string {
	if resp.ItemsCount == 0 {
		return "Review completed; no transactions were approved."
	}
	parts := []string{fmt.Sprintf("Imported %d approved transaction(s).", resp.ItemsCount)}
	return strings.Join(append(parts, detailMessages(resp)...), " ")
}

func detailMessages(resp *IngestResponse) []string {
	var parts []string
	if resp.CategorizedFromHistory > 0 {
		parts = append(parts, fmt.Sprintf("%d categorized from your history.", resp.CategorizedFromHistory))
	}
	if resp.DeferredCount > 0 {
		parts = append(parts, fmt.Sprintf("%d purchase(s) made after the closing day were assigned to the next invoice.", resp.DeferredCount))
	}
	if resp.ProjectedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d future installment(s) were scheduled.", resp.ProjectedCount))
	}
	return parts
}
