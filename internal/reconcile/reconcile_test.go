package reconcile

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

var march10 = civil.Date{Year: 2024, Month: time.March, Day: 10}

func stored(id, desc string, d civil.Date, amount string) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		CardID:      "card-1",
		Description: desc,
		Date:        d,
		Amount:      decimal.RequireFromString(amount),
		Type:        domain.TypeExpense,
	}
}

func candidate(desc string, d civil.Date, amount string) domain.Candidate {
	return domain.Candidate{Description: desc, Date: d, Amount: decimal.RequireFromString(amount)}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"UBER *UBER TRIP 123456": "uberubertrip123456",
		"Padaria São João":       "padariasaojoao",
		"  Açaí -- 10,50  ":      "acai1050",
		"***":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"truncated prefix", "UBER *UBER TRIP 123456", "UBER *UBER TRIP", 1},
		{"equal after normalization", "Padaria São João", "PADARIA SAO JOAO", 1},
		{"short strings never match", "UBER", "UBER", 0},
		{"one side short", "UBER", "UBER EATS", 0},
		{"partial prefix", "NETFLIX COM", "NETFLIX BR", 7.0 / 9.0},
		{"no common prefix", "AMAZON", "MERCADO", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestMatch_ExactGateIsStrict(t *testing.T) {
	r := New(DefaultThreshold, DefaultMinLength)
	c := candidate("SUPERMERCADO EXTRA", march10, "150.00")

	tests := []struct {
		name     string
		existing domain.Transaction
	}{
		{"different date", stored("a", "SUPERMERCADO EXTRA", march10.AddDays(1), "150.00")},
		{"different amount", stored("b", "SUPERMERCADO EXTRA", march10, "150.01")},
		{"different card", func() domain.Transaction {
			tx := stored("c", "SUPERMERCADO EXTRA", march10, "150.00")
			tx.CardID = "card-2"
			return tx
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := r.Match("card-1", c, []domain.Transaction{tt.existing})
			assert.False(t, ok)
		})
	}
}

func TestMatch_NegativeCandidateAmountUsesAbsoluteValue(t *testing.T) {
	r := New(DefaultThreshold, DefaultMinLength)
	c := candidate("ESTORNO LOJA ABC", march10, "-42.50")

	match, score, ok := r.Match("card-1", c, []domain.Transaction{stored("a", "ESTORNO LOJA ABC", march10, "42.5")})
	require.True(t, ok)
	assert.Equal(t, "a", match.ID)
	assert.Equal(t, 1.0, score)
}

func TestMatch_ShortDescriptionsNeverMatch(t *testing.T) {
	r := New(DefaultThreshold, DefaultMinLength)
	c := candidate("IOF", march10, "1.20")

	_, _, ok := r.Match("card-1", c, []domain.Transaction{stored("a", "IOF", march10, "1.20")})
	assert.False(t, ok)
}

func TestMatch_PicksHighestSimilarity(t *testing.T) {
	r := New(DefaultThreshold, DefaultMinLength)
	c := candidate("NETFLIX.COM SAO PAULO", march10, "39.90")
	existing := []domain.Transaction{
		stored("weak", "NETFLIX BR", march10, "39.90"),
		stored("strong", "NETFLIX.COM", march10, "39.90"),
		stored("tie", "NETFLIX COM", march10, "39.90"),
	}

	match, score, ok := r.Match("card-1", c, existing)
	require.True(t, ok)
	assert.Equal(t, "strong", match.ID)
	assert.Equal(t, 1.0, score)
}

func TestMatch_BelowThreshold(t *testing.T) {
	r := New(DefaultThreshold, DefaultMinLength)
	c := candidate("POSTO SHELL CENTRO", march10, "200.00")

	_, _, ok := r.Match("card-1", c, []domain.Transaction{stored("a", "POSTO IPIRANGA", march10, "200.00")})
	assert.False(t, ok)
}

func TestPartition(t *testing.T) {
	r := New(0, 0)
	existing := []domain.Transaction{
		stored("e1", "UBER *UBER TRIP 123456", march10, "25.40"),
		stored("e2", "MERCADO LIVRE", march10.AddDays(2), "99.00"),
	}
	candidates := []domain.Candidate{
		candidate("UBER *UBER TRIP", march10, "25.40"),
		candidate("MERCADO LIVRE", march10, "99.00"),
		candidate("FARMACIA PAGUE MENOS", march10, "12.00"),
	}

	fresh, dups := r.Partition("card-1", candidates, existing)

	require.Len(t, dups, 1)
	assert.Equal(t, "e1", dups[0].ExistingMatch.ID)
	assert.Equal(t, "UBER *UBER TRIP", dups[0].Transaction.Description)
	assert.Equal(t, 1.0, dups[0].Similarity)

	require.Len(t, fresh, 2)
	assert.Equal(t, "MERCADO LIVRE", fresh[0].Description)
	assert.Equal(t, "FARMACIA PAGUE MENOS", fresh[1].Description)
}

func TestNew_Defaults(t *testing.T) {
	r := New(-1, 0)
	assert.Equal(t, DefaultThreshold, r.Threshold())
	assert.Equal(t, DefaultMinLength, r.minLength)
}
