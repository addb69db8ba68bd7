package postgres

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

const transactionColumns = `transaction_id, house_id, COALESCE(card_id, ''), COALESCE(upload_id, ''),
	description, transaction_date, amount, type, COALESCE(installment, ''), category,
	billing_month, COALESCE(recurrence_group, ''), created_at`

// ListCardTransactions returns the rows of a card ordered by date, then id.
func (r *Repository) ListCardTransactions(ctx context.Context, cardID string) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, "ListCardTransactions",
		`SELECT `+transactionColumns+` FROM transactions
		WHERE card_id = $1
		ORDER BY transaction_date, transaction_id`, cardID)
}

// ListCategorizedTransactions returns the rows of a house that carry a real
// category.
func (r *Repository) ListCategorizedTransactions(ctx context.Context, houseID string) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, "ListCategorizedTransactions",
		`SELECT `+transactionColumns+` FROM transactions
		WHERE house_id = $1 AND category <> '' AND category <> $2
		ORDER BY transaction_date, transaction_id`, houseID, domain.Unclassified)
}

// ListHouseTransactions returns every row of a house ordered by date, then id.
func (r *Repository) ListHouseTransactions(ctx context.Context, houseID string) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, "ListHouseTransactions",
		`SELECT `+transactionColumns+` FROM transactions
		WHERE house_id = $1
		ORDER BY transaction_date, transaction_id`, houseID)
}

func (r *Repository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var (
			t                  domain.Transaction
			txType             string
			date, billingMonth time.Time
		)
		err := rows.Scan(&t.ID, &t.HouseID, &t.CardID, &t.UploadID,
			&t.Description, &date, &t.Amount, &txType, &t.Installment, &t.Category,
			&billingMonth, &t.RecurrenceGroup, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		t.Type = domain.TransactionType(txType)
		t.Date = civil.DateOf(date)
		t.BillingMonth = civil.DateOf(billingMonth)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return txs, nil
}
