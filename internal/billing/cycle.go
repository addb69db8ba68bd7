// Package billing assigns purchases to card invoices and projects remaining installments.
package billing

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

const (
	// DefaultClosingDay is used for cards without a usable closing day.
	DefaultClosingDay = 20

	minClosingDay = 1
	maxClosingDay = 28
)

// ClosingDayOrDefault returns the card's closing day, or DefaultClosingDay when
// it is unset or outside [1,28]. The default is never written back to the card.
func ClosingDayOrDefault(card *domain.Card) int {
	return ClosingDayOr(card, DefaultClosingDay)
}

// ClosingDayOr is ClosingDayOrDefault with a caller supplied fallback. A
// fallback outside [1,28] is replaced by DefaultClosingDay.
func ClosingDayOr(card *domain.Card, fallback int) int {
	if card == nil || card.ClosingDay < minClosingDay || card.ClosingDay > maxClosingDay {
		if fallback < minClosingDay || fallback > maxClosingDay {
			return DefaultClosingDay
		}
		return fallback
	}
	return card.ClosingDay
}

// BillingMonth returns the first day of the month whose invoice includes a
// purchase made on date, and whether the purchase was deferred past the closing day.
func BillingMonth(date civil.Date, closingDay int) (civil.Date, bool) {
	closingDay = clampClosingDay(closingDay)

	month := domain.FirstOfMonth(date)
	if date.Day > closingDay {
		return AddMonths(month, 1), true
	}
	return month, false
}

// AddMonths moves d by n calendar months, clamping the day to the target month's length.
func AddMonths(d civil.Date, n int) civil.Date {
	first := time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := d.Day
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return civil.Date{Year: first.Year(), Month: first.Month(), Day: day}
}

// ParseMonth parses a "YYYY-MM" invoice month into its first day.
func ParseMonth(s string) (civil.Date, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return civil.Date{}, err
	}
	return civil.Date{Year: t.Year(), Month: t.Month(), Day: 1}, nil
}

func clampClosingDay(day int) int {
	if day < minClosingDay {
		return minClosingDay
	}
	if day > maxClosingDay {
		return maxClosingDay
	}
	return day
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
