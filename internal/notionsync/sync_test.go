package notionsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/store/memory"
)

func ledgerRow(id, description, amount string, txType domain.TransactionType) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		HouseID:      "house-1",
		CardID:       "card-1",
		UploadID:     "upload-1",
		Description:  description,
		Date:         civil.Date{Year: 2024, Month: time.March, Day: 5},
		Amount:       decimal.RequireFromString(amount),
		Type:         txType,
		Category:     "mercado",
		BillingMonth: civil.Date{Year: 2024, Month: time.March, Day: 1},
	}
}

func pageFor(pageID, txID string) notionapi.Page {
	props := notionapi.Properties{}
	if txID != "" {
		props[propTransactionID] = &notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{PlainText: txID}},
		}
	}
	return notionapi.Page{ID: notionapi.ObjectID(pageID), Properties: props}
}

func TestTransactionToNotionProperties(t *testing.T) {
	expense := ledgerRow("tx-1", "PADARIA REAL", "12.50", domain.TypeExpense)
	expense.Installment = "1/3"
	props := TransactionToNotionProperties(expense)

	assert.Equal(t, -12.5, props[propAmount].(notionapi.NumberProperty).Number)
	assert.Equal(t, "expense", props[propType].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "mercado", props[propCategory].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "tx-1", props[propTransactionID].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "PADARIA REAL", props[propDescription].(notionapi.TitleProperty).Title[0].Text.Content)
	assert.Contains(t, props, propInstallment)
	assert.NotContains(t, props, propRecurrenceGroup)
	assert.NotContains(t, props, propImportedAt)

	start := time.Time(*props[propDate].(notionapi.DateProperty).Date.Start)
	assert.Equal(t, time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC), start)

	income := ledgerRow("tx-2", "ESTORNO", "30", domain.TypeIncome)
	income.Category = ""
	props = TransactionToNotionProperties(income)
	assert.Equal(t, 30.0, props[propAmount].(notionapi.NumberProperty).Number)
	assert.Equal(t, domain.Unclassified, props[propCategory].(notionapi.SelectProperty).Select.Name)
}

func TestSyncHouse(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore()
	repo.AddTransactions(
		ledgerRow("tx-1", "PADARIA REAL", "12.50", domain.TypeExpense),
		ledgerRow("tx-2", "UBER *TRIP", "25.40", domain.TypeExpense),
	)

	var created, updated, archived []string
	var filters []string
	notion := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			filters = append(filters, req.Filter.(*notionapi.PropertyFilter).RichText.Equals)
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{pageFor("page-a", "tx-1"), pageFor("page-b", "tx-gone")},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{pageFor("page-c", "tx-1"), pageFor("page-d", "")},
			}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
			assert.Equal(t, "db-1", databaseID)
			created = append(created, props[propTransactionID].(notionapi.RichTextProperty).RichText[0].Text.Content)
			return &notionapi.Page{ID: "page-new"}, nil
		},
		UpdatePageFunc: func(ctx context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error) {
			updated = append(updated, pageID)
			return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
		},
		ArchivePageFunc: func(ctx context.Context, pageID string) error {
			archived = append(archived, pageID)
			return nil
		},
	}

	res, err := NewSyncer(repo, notion, "db-1").SyncHouse(ctx, "house-1", false)
	require.NoError(t, err)

	assert.Equal(t, &Result{Created: 1, Updated: 1, Archived: 3}, res)
	assert.Equal(t, []string{"tx-2"}, created)
	assert.Equal(t, []string{"page-a"}, updated)
	assert.ElementsMatch(t, []string{"page-b", "page-c", "page-d"}, archived)
	assert.Equal(t, []string{"house-1", "house-1"}, filters)
}

func TestSyncHouse_DryRunWritesNothing(t *testing.T) {
	repo := memory.NewStore()
	repo.AddTransactions(ledgerRow("tx-1", "PADARIA REAL", "12.50", domain.TypeExpense))

	notion := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{pageFor("page-x", "tx-old")}}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
			t.Fatal("CreatePage called in dry run")
			return nil, nil
		},
		ArchivePageFunc: func(ctx context.Context, pageID string) error {
			t.Fatal("ArchivePage called in dry run")
			return nil
		},
	}

	res, err := NewSyncer(repo, notion, "db-1").SyncHouse(context.Background(), "house-1", true)
	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 1, Archived: 1}, res)
}

func TestSyncHouse_PageFailuresAreCounted(t *testing.T) {
	repo := memory.NewStore()
	repo.AddTransactions(ledgerRow("tx-1", "PADARIA REAL", "12.50", domain.TypeExpense))

	notion := &MockNotionService{
		CreatePageFunc: func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
			return nil, errors.New("rate limited")
		},
	}

	res, err := NewSyncer(repo, notion, "db-1").SyncHouse(context.Background(), "house-1", false)
	require.NoError(t, err)
	assert.Equal(t, &Result{Failed: 1}, res)
}

func TestSyncHouse_QueryFailureAborts(t *testing.T) {
	notion := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return nil, errors.New("unauthorized")
		},
	}

	_, err := NewSyncer(memory.NewStore(), notion, "db-1").SyncHouse(context.Background(), "house-1", false)
	assert.Error(t, err)
}
