package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

const transactionColumns = `
	transaction_id, house_id, IFNULL(card_id, '') AS card_id,
	IFNULL(upload_id, '') AS upload_id, description, transaction_date, amount,
	IFNULL(type, 'expense') AS type, IFNULL(installment, '') AS installment,
	IFNULL(category, '') AS category, billing_month,
	IFNULL(recurrence_group, '') AS recurrence_group, created_ts`

// ListCardTransactions returns the rows of a card ordered by date, then id.
func (r *Repository) ListCardTransactions(ctx context.Context, cardID string) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, "ListCardTransactions", `
		SELECT `+transactionColumns+`
		FROM `+r.table(transactionsTable)+`
		WHERE card_id = @card_id
		ORDER BY transaction_date, transaction_id
	`, []bigquery.QueryParameter{{Name: "card_id", Value: cardID}})
}

// ListCategorizedTransactions returns the rows of a house that carry a real
// category.
func (r *Repository) ListCategorizedTransactions(ctx context.Context, houseID string) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, "ListCategorizedTransactions", `
		SELECT `+transactionColumns+`
		FROM `+r.table(transactionsTable)+`
		WHERE house_id = @house_id
		  AND category IS NOT NULL
		  AND category NOT IN ('', @unclassified)
		ORDER BY transaction_date, transaction_id
	`, []bigquery.QueryParameter{
		{Name: "house_id", Value: houseID},
		{Name: "unclassified", Value: domain.Unclassified},
	})
}

// ListHouseTransactions returns every row of a house ordered by date, then id.
func (r *Repository) ListHouseTransactions(ctx context.Context, houseID string) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, "ListHouseTransactions", `
		SELECT `+transactionColumns+`
		FROM `+r.table(transactionsTable)+`
		WHERE house_id = @house_id
		ORDER BY transaction_date, transaction_id
	`, []bigquery.QueryParameter{{Name: "house_id", Value: houseID}})
}

func (r *Repository) queryTransactions(ctx context.Context, op, sql string, params []bigquery.QueryParameter) ([]domain.Transaction, error) {
	q := r.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	txs := []domain.Transaction{}
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		tx, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%s: amount of %s: %w", op, row.TransactionID, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
