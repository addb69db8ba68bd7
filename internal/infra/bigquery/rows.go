package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// numericScale is the number of decimal digits BigQuery NUMERIC keeps.
const numericScale = 9

type HouseRow struct {
	HouseID string `bigquery:"house_id"` // REQUIRED
	OwnerID string `bigquery:"owner_id"` // REQUIRED
	Name    string `bigquery:"name"`
}

type CardRow struct {
	CardID     string             `bigquery:"card_id"`  // REQUIRED
	HouseID    string             `bigquery:"house_id"` // REQUIRED
	Name       string             `bigquery:"name"`
	ClosingDay bigquery.NullInt64 `bigquery:"closing_day"` // NULLABLE
	DueDay     bigquery.NullInt64 `bigquery:"due_day"`     // NULLABLE
}

type UploadRow struct {
	UploadID     string              `bigquery:"upload_id"` // REQUIRED
	HouseID      string              `bigquery:"house_id"`  // REQUIRED
	CardID       string              `bigquery:"card_id"`   // REQUIRED
	Filename     string              `bigquery:"filename"`
	FileKind     string              `bigquery:"file_kind"`
	BillingMonth civil.Date          `bigquery:"billing_month"`
	ItemsCount   int64               `bigquery:"items_count"`
	Status       string              `bigquery:"status"`        // REQUIRED
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE
	ArchiveURI   bigquery.NullString `bigquery:"archive_uri"`   // NULLABLE
	CreatedBy    string              `bigquery:"created_by"`
	CreatedTS    time.Time           `bigquery:"created_ts"`
	UpdatedTS    time.Time           `bigquery:"updated_ts"`
}

// TransactionRow is both the read model and the element type of the
// @rows array parameter. Empty strings are stored as NULL.
type TransactionRow struct {
	TransactionID   string     `bigquery:"transaction_id"` // REQUIRED
	HouseID         string     `bigquery:"house_id"`       // REQUIRED
	CardID          string     `bigquery:"card_id"`
	UploadID        string     `bigquery:"upload_id"`
	Description     string     `bigquery:"description"`      // REQUIRED
	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC
	Type            string     `bigquery:"type"`
	Installment     string     `bigquery:"installment"`
	Category        string     `bigquery:"category"`
	BillingMonth    civil.Date `bigquery:"billing_month"`
	RecurrenceGroup string     `bigquery:"recurrence_group"`
	CreatedTS       time.Time  `bigquery:"created_ts"`
}

type ModelOutputRow struct {
	OutputID     string    `bigquery:"output_id"` // REQUIRED
	UploadID     string    `bigquery:"upload_id"` // REQUIRED
	ModelName    string    `bigquery:"model_name"`
	RawText      string    `bigquery:"raw_text"`
	TokensInput  int64     `bigquery:"tokens_input"`
	TokensOutput int64     `bigquery:"tokens_output"`
	CreatedTS    time.Time `bigquery:"created_ts"`
}

func (r *HouseRow) toDomain() *domain.House {
	return &domain.House{ID: r.HouseID, OwnerID: r.OwnerID, Name: r.Name}
}

func (r *CardRow) toDomain() *domain.Card {
	return &domain.Card{
		ID:         r.CardID,
		HouseID:    r.HouseID,
		Name:       r.Name,
		ClosingDay: int(r.ClosingDay.Int64),
		DueDay:     int(r.DueDay.Int64),
	}
}

func uploadToRow(u *domain.Upload) *UploadRow {
	return &UploadRow{
		UploadID:     u.ID,
		HouseID:      u.HouseID,
		CardID:       u.CardID,
		Filename:     u.Filename,
		FileKind:     string(u.FileKind),
		BillingMonth: u.BillingMonth,
		ItemsCount:   int64(u.ItemsCount),
		Status:       string(u.Status),
		ErrorMessage: nullString(u.ErrorMessage),
		ArchiveURI:   nullString(u.ArchiveURI),
		CreatedBy:    u.CreatedBy,
		CreatedTS:    u.CreatedAt.UTC(),
		UpdatedTS:    u.UpdatedAt.UTC(),
	}
}

func (r *UploadRow) toDomain() *domain.Upload {
	return &domain.Upload{
		ID:           r.UploadID,
		HouseID:      r.HouseID,
		CardID:       r.CardID,
		Filename:     r.Filename,
		FileKind:     domain.FileKind(r.FileKind),
		BillingMonth: r.BillingMonth,
		ItemsCount:   int(r.ItemsCount),
		Status:       domain.UploadStatus(r.Status),
		ErrorMessage: r.ErrorMessage.StringVal,
		ArchiveURI:   r.ArchiveURI.StringVal,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedTS,
		UpdatedAt:    r.UpdatedTS,
	}
}

func transactionToRow(t domain.Transaction) TransactionRow {
	return TransactionRow{
		TransactionID:   t.ID,
		HouseID:         t.HouseID,
		CardID:          t.CardID,
		UploadID:        t.UploadID,
		Description:     t.Description,
		TransactionDate: t.Date,
		Amount:          t.Amount.Rat(),
		Type:            string(t.Type),
		Installment:     t.Installment,
		Category:        t.Category,
		BillingMonth:    t.BillingMonth,
		RecurrenceGroup: t.RecurrenceGroup,
		CreatedTS:       t.CreatedAt.UTC(),
	}
}

func transactionsToRows(txs []domain.Transaction) []TransactionRow {
	rows := make([]TransactionRow, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, transactionToRow(t))
	}
	return rows
}

func (r *TransactionRow) toDomain() (domain.Transaction, error) {
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		ID:              r.TransactionID,
		HouseID:         r.HouseID,
		CardID:          r.CardID,
		UploadID:        r.UploadID,
		Description:     r.Description,
		Date:            r.TransactionDate,
		Amount:          amount,
		Type:            domain.TransactionType(r.Type),
		Installment:     r.Installment,
		Category:        r.Category,
		BillingMonth:    r.BillingMonth,
		RecurrenceGroup: r.RecurrenceGroup,
		CreatedAt:       r.CreatedTS,
	}, nil
}

func modelOutputToRow(o *domain.ModelOutput) *ModelOutputRow {
	return &ModelOutputRow{
		OutputID:     o.ID,
		UploadID:     o.UploadID,
		ModelName:    o.Model,
		RawText:      o.RawText,
		TokensInput:  o.TokensInput,
		TokensOutput: o.TokensOutput,
		CreatedTS:    o.CreatedAt.UTC(),
	}
}

func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.FloatString(numericScale))
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func statusStrings(statuses []domain.UploadStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
