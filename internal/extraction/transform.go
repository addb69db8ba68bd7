package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/invoice-ingest/internal/billing"
	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/logger"
)

const snippetLen = 200

// ParseCandidates locates the {"transactions": [...]} object in a service
// response and converts its rows. Invalid rows are skipped and counted, a
// missing or mistyped transactions array is a *domain.ParseError.
func ParseCandidates(ctx context.Context, raw string) ([]domain.Candidate, int, error) {
	log := logger.FromContext(ctx)

	obj, err := FindJSONObject(raw)
	if err != nil {
		return nil, 0, &domain.ParseError{Reason: err.Error(), Snippet: domain.Snippet(strings.TrimSpace(raw), snippetLen)}
	}

	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, 0, &domain.ParseError{Reason: "decode JSON object", Err: err}
	}

	txAny, ok := root["transactions"]
	if !ok {
		return nil, 0, &domain.ParseError{Reason: "missing 'transactions' key", Snippet: domain.Snippet(obj, snippetLen)}
	}
	if txAny == nil {
		return []domain.Candidate{}, 0, nil
	}
	rows, ok := txAny.([]interface{})
	if !ok {
		return nil, 0, &domain.ParseError{Reason: fmt.Sprintf("'transactions' is %T, want array", txAny)}
	}

	candidates := make([]domain.Candidate, 0, len(rows))
	skipped := 0
	for i, item := range rows {
		row, ok := item.(map[string]interface{})
		if !ok {
			log.Warn().Int("row", i).Str("type", fmt.Sprintf("%T", item)).Msg("Skipping non-object transaction row")
			skipped++
			continue
		}

		c, err := toCandidate(row)
		if err != nil {
			log.Warn().Err(err).Int("row", i).Msg("Skipping invalid transaction row")
			skipped++
			continue
		}

		if c.Installment != "" {
			inst, err := billing.ParseInstallment(c.Installment)
			if err != nil {
				log.Warn().Err(err).Int("row", i).Str("description", c.Description).Msg("Dropping invalid installment label")
				c.Installment = ""
			} else {
				c.Installment = inst.String()
			}
		}

		candidates = append(candidates, c)
	}

	return candidates, skipped, nil
}

func toCandidate(obj map[string]interface{}) (domain.Candidate, error) {
	desc, err := getStringField(obj, "description", true)
	if err != nil {
		return domain.Candidate{}, err
	}
	dateStr, err := getStringField(obj, "date", true)
	if err != nil {
		return domain.Candidate{}, err
	}
	date, err := civil.ParseDate(strings.TrimSpace(dateStr))
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}
	amount, err := getDecimalField(obj, "amount")
	if err != nil {
		return domain.Candidate{}, err
	}
	if amount.IsZero() {
		return domain.Candidate{}, fmt.Errorf("amount is zero")
	}
	installment, err := getOptionalStringField(obj, "installment")
	if err != nil {
		return domain.Candidate{}, err
	}
	category, err := getOptionalStringField(obj, "category")
	if err != nil {
		return domain.Candidate{}, err
	}

	return domain.Candidate{
		Description: desc,
		Date:        date,
		Amount:      amount,
		Installment: installment,
		Category:    category,
	}, nil
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("required field %q is empty", key)
	}
	return s, nil
}

func getOptionalStringField(m map[string]interface{}, key string) (string, error) {
	s, err := getStringField(m, key, false)
	return strings.TrimSpace(s), err
}

func getDecimalField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
