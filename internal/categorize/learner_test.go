package categorize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

func labeled(desc, category string) domain.Transaction {
	return domain.Transaction{Description: desc, Category: category}
}

func TestBuildLookup_MostFrequentWins(t *testing.T) {
	history := []domain.Transaction{
		labeled("uber", "Transporte"),
		labeled("Uber ", "Transporte"),
		labeled("UBER", "Transporte"),
		labeled("uber", "Lazer"),
	}

	lookup := BuildLookup(history)

	got, ok := lookup.Category("Uber")
	assert.True(t, ok)
	assert.Equal(t, "Transporte", got)
}

func TestBuildLookup_TieBreaksLexicographically(t *testing.T) {
	history := []domain.Transaction{
		labeled("padaria", "Mercado"),
		labeled("padaria", "Alimentação"),
	}

	for i := 0; i < 10; i++ {
		got, ok := BuildLookup(history).Category("PADARIA")
		assert.True(t, ok)
		assert.Equal(t, "Alimentação", got)
	}
}

func TestBuildLookup_IgnoresUnlabeled(t *testing.T) {
	history := []domain.Transaction{
		labeled("posto", ""),
		labeled("posto", "unclassified"),
		labeled("posto", "Unclassified"),
		labeled("   ", "Casa"),
	}

	lookup := BuildLookup(history)
	assert.Empty(t, lookup)
}

func TestApply(t *testing.T) {
	lookup := Lookup{"uber": "Transporte"}
	candidates := []domain.Candidate{
		{Description: " UBER ", Category: "Lazer"},
		{Description: "Farmacia", Category: "Saúde"},
		{Description: "Loja", Category: "  "},
	}

	got, fromHistory := Apply(lookup, candidates)

	assert.Equal(t, 1, fromHistory)
	assert.Equal(t, "Transporte", got[0].Category)
	assert.Equal(t, "Saúde", got[1].Category)
	assert.Equal(t, domain.Unclassified, got[2].Category)
	assert.Equal(t, "Lazer", candidates[0].Category, "input must not be mutated")
}
