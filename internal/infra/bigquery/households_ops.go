package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// GetHouse retrieves a house by id.
func (r *Repository) GetHouse(ctx context.Context, houseID string) (*domain.House, error) {
	q := r.client.Query(`
		SELECT house_id, owner_id, IFNULL(name, '') AS name
		FROM ` + r.table(housesTable) + `
		WHERE house_id = @house_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "house_id", Value: houseID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetHouse: query read: %w", err)
	}

	var row HouseRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, &domain.NotFoundError{Entity: "house", ID: houseID}
	}
	if err != nil {
		return nil, fmt.Errorf("GetHouse: iter next: %w", err)
	}
	return row.toDomain(), nil
}

// GetCard retrieves a card by id.
func (r *Repository) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	q := r.client.Query(`
		SELECT card_id, house_id, IFNULL(name, '') AS name, closing_day, due_day
		FROM ` + r.table(cardsTable) + `
		WHERE card_id = @card_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "card_id", Value: cardID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetCard: query read: %w", err)
	}

	var row CardRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, &domain.NotFoundError{Entity: "card", ID: cardID}
	}
	if err != nil {
		return nil, fmt.Errorf("GetCard: iter next: %w", err)
	}
	return row.toDomain(), nil
}
