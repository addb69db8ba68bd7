package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

func TestDateValue(t *testing.T) {
	assert.Nil(t, dateValue(civil.Date{}))
	assert.Equal(t,
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		dateValue(civil.Date{Year: 2024, Month: time.March, Day: 1}))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "1/3", nullIfEmpty("1/3"))
}

func TestTransactionValuesMatchCopyColumns(t *testing.T) {
	tx := domain.Transaction{
		ID:           "tx-1",
		HouseID:      "house-1",
		Description:  "PIX RECEBIDO",
		Date:         civil.Date{Year: 2024, Month: time.March, Day: 4},
		Amount:       decimal.RequireFromString("150.00"),
		Type:         domain.TypeIncome,
		Category:     domain.Unclassified,
		BillingMonth: civil.Date{Year: 2024, Month: time.March, Day: 1},
		CreatedAt:    time.Date(2024, 3, 15, 9, 0, 0, 0, time.FixedZone("BRT", -3*3600)),
	}

	values := transactionValues(tx)
	assert.Len(t, values, len(transactionCopyColumns))

	byColumn := map[string]any{}
	for i, col := range transactionCopyColumns {
		byColumn[col] = values[i]
	}
	assert.Nil(t, byColumn["card_id"])
	assert.Nil(t, byColumn["upload_id"])
	assert.Nil(t, byColumn["installment"])
	assert.Nil(t, byColumn["recurrence_group"])
	assert.Equal(t, "150", byColumn["amount"])
	assert.Equal(t, "income", byColumn["type"])
	assert.Equal(t, time.UTC, byColumn["created_at"].(time.Time).Location())
}

func TestStatusArray(t *testing.T) {
	got := statusArray([]domain.UploadStatus{domain.StatusCompleted, domain.StatusPendingReview})
	assert.Equal(t, pq.StringArray{"completed", "pending_review"}, got)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("copy: %w", &pq.Error{Code: uniqueViolation})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("connection reset")))
}
