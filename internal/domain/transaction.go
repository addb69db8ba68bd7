package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Unclassified is the category assigned when neither history nor the extractor provides one.
const Unclassified = "unclassified"

// TransactionType distinguishes money going out from money coming in.
// It is fixed when the row is created.
type TransactionType string

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

// Transaction is a persisted row of a household ledger.
// Amount is always positive; the sign lives in Type.
type Transaction struct {
	ID       string `json:"id"`
	HouseID  string `json:"houseId"`
	CardID   string `json:"cardId,omitempty"`   // empty for manual entries
	UploadID string `json:"uploadId,omitempty"` // empty for manual entries

	Description string          `json:"description"` // stored exactly as extracted
	Date        civil.Date      `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Installment string          `json:"installment,omitempty"`
	Category    string          `json:"category"`

	BillingMonth    civil.Date `json:"billingMonth"`
	RecurrenceGroup string     `json:"recurrenceGroup,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Candidate is an extracted transaction that has not been persisted yet.
// Amount keeps the sign reported by the extractor.
type Candidate struct {
	Description string          `json:"description"`
	Date        civil.Date      `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Installment string          `json:"installment,omitempty"`
	Category    string          `json:"category,omitempty"`
}

// PossibleDuplicate pairs a candidate with the stored row it resembles.
type PossibleDuplicate struct {
	Transaction   Candidate   `json:"transaction"`
	ExistingMatch Transaction `json:"existingMatch"`
	Similarity    float64     `json:"similarity"`
}

// FirstOfMonth returns the first day of the month containing d.
func FirstOfMonth(d civil.Date) civil.Date {
	return civil.Date{Year: d.Year, Month: d.Month, Day: 1}
}
