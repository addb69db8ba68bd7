package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// Property names of the ledger database.
const (
	propDescription     = "Description"
	propTransactionID   = "Transaction ID"
	propHouseID         = "House ID"
	propDate            = "Date"
	propBillingMonth    = "Billing Month"
	propAmount          = "Amount"
	propType            = "Type"
	propCategory        = "Category"
	propInstallment     = "Installment"
	propUploadID        = "Upload ID"
	propRecurrenceGroup = "Recurrence Group"
	propImportedAt      = "Imported At"
)

// TransactionToNotionProperties converts a ledger row to page properties.
// Amount is signed: income is positive and expenses are negative.
func TransactionToNotionProperties(tx domain.Transaction) notionapi.Properties {
	amount := tx.Amount.Abs()
	if tx.Type != domain.TypeIncome {
		amount = amount.Neg()
	}
	number, _ := amount.Float64()

	props := notionapi.Properties{
		propDescription: notionapi.TitleProperty{
			Title: richText(tx.Description),
		},
		propTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.ID),
		},
		propHouseID: notionapi.RichTextProperty{
			RichText: richText(tx.HouseID),
		},
		propDate:         dateProperty(tx.Date),
		propBillingMonth: dateProperty(tx.BillingMonth),
		propAmount: notionapi.NumberProperty{
			Number: number,
		},
		propType: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Type)},
		},
	}

	category := tx.Category
	if category == "" {
		category = domain.Unclassified
	}
	props[propCategory] = notionapi.SelectProperty{
		Select: notionapi.Option{Name: category},
	}

	if tx.Installment != "" {
		props[propInstallment] = notionapi.RichTextProperty{RichText: richText(tx.Installment)}
	}
	if tx.UploadID != "" {
		props[propUploadID] = notionapi.RichTextProperty{RichText: richText(tx.UploadID)}
	}
	if tx.RecurrenceGroup != "" {
		props[propRecurrenceGroup] = notionapi.RichTextProperty{RichText: richText(tx.RecurrenceGroup)}
	}
	if !tx.CreatedAt.IsZero() {
		created := notionapi.Date(tx.CreatedAt.UTC())
		props[propImportedAt] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &created},
		}
	}

	return props
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

func dateProperty(d civil.Date) notionapi.DateProperty {
	start := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &start},
	}
}

// extractTransactionID extracts the transaction ID from a page's properties.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[propTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok && len(rt.RichText) > 0 {
			return rt.RichText[0].PlainText
		}
	}
	return ""
}
