// Package notionsync mirrors household ledgers into a Notion database.
//
// Pages are keyed by their "Transaction ID" property and scoped to a house by
// "House ID". A sync creates pages for new rows, refreshes existing ones and
// archives pages whose row no longer exists, for example after an undo.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/store"
)

// pageSize is the number of pages requested per database query.
const pageSize = 100

// Result counts what a sync did, or would do in a dry run.
type Result struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// Syncer pushes the transactions of a house to a Notion database.
type Syncer struct {
	repo       store.TransactionReader
	notion     NotionService
	databaseID string
}

// NewSyncer creates a syncer writing to databaseID.
func NewSyncer(repo store.TransactionReader, notion NotionService, databaseID string) *Syncer {
	return &Syncer{repo: repo, notion: notion, databaseID: databaseID}
}

// SyncHouse makes the Notion database mirror the ledger of houseID.
// Failures on single pages are logged and counted; only failures to read
// either side abort the sync.
func (s *Syncer) SyncHouse(ctx context.Context, houseID string, dryRun bool) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("house_id", houseID).Logger()

	log.Info().Bool("dry_run", dryRun).Msg("Starting ledger sync to Notion")

	transactions, err := s.repo.ListHouseTransactions(ctx, houseID)
	if err != nil {
		return nil, fmt.Errorf("SyncHouse: list transactions: %w", err)
	}

	pages, err := queryHousePages(ctx, s.notion, s.databaseID, houseID)
	if err != nil {
		return nil, fmt.Errorf("SyncHouse: query Notion pages: %w", err)
	}

	log.Info().
		Int("transaction_count", len(transactions)).
		Int("notion_page_count", len(pages)).
		Msg("Loaded both sides")

	valid := make(map[string]bool, len(transactions))
	for _, tx := range transactions {
		valid[tx.ID] = true
	}

	// First page per transaction wins; extra copies are archived as stale.
	existing := make(map[string]string, len(pages))
	var stale []notionapi.Page
	for _, page := range pages {
		txID := extractTransactionID(page)
		if txID == "" || !valid[txID] {
			stale = append(stale, page)
			continue
		}
		if _, dup := existing[txID]; dup {
			stale = append(stale, page)
			continue
		}
		existing[txID] = string(page.ID)
	}

	res := &Result{}

	for _, page := range stale {
		pageLog := log.With().Str("page_id", string(page.ID)).Str("transaction_id", extractTransactionID(page)).Logger()
		if dryRun {
			pageLog.Info().Msg("[DRY RUN] Would archive stale Notion page")
			res.Archived++
			continue
		}
		if err := s.notion.ArchivePage(ctx, string(page.ID)); err != nil {
			pageLog.Warn().Err(err).Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		pageLog.Debug().Msg("Archived stale Notion page")
		res.Archived++
	}

	for _, tx := range transactions {
		pageID, found := existing[tx.ID]
		if dryRun {
			if found {
				res.Updated++
			} else {
				log.Info().Str("transaction_id", tx.ID).Msg("[DRY RUN] Would create Notion page")
				res.Created++
			}
			continue
		}

		props := TransactionToNotionProperties(tx)
		if found {
			if _, err := s.notion.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("transaction_id", tx.ID).Str("page_id", pageID).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		page, err := s.notion.CreatePage(ctx, s.databaseID, props)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		log.Debug().Str("transaction_id", tx.ID).Str("page_id", string(page.ID)).Msg("Created Notion page")
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Int("total", len(transactions)).
		Msg("Ledger sync completed")

	return res, nil
}

// queryHousePages returns every page of the house, following cursors.
func queryHousePages(ctx context.Context, notion NotionService, databaseID, houseID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter: &notionapi.PropertyFilter{
				Property: propHouseID,
				RichText: &notionapi.TextFilterCondition{Equals: houseID},
			},
			PageSize: pageSize,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryHousePages: %w", err)
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return all, nil
}
