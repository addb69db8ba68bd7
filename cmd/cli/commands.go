package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/dvloznov/invoice-ingest/internal/app"
	"github.com/dvloznov/invoice-ingest/internal/billing"
	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/gcsuploader"
	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/notionsync"
	"github.com/dvloznov/invoice-ingest/internal/pipeline"
)

func newIngestCmd(opts *options) *cobra.Command {
	var (
		file, kind, cardID, houseID, month string
		timeout                            time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest an invoice file from disk or gs://",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind == "" {
				kind = kindFromFilename(file)
			}

			return withServices(cmd, opts, func(ctx context.Context, svc *app.Services) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				data, err := readInput(ctx, file)
				if err != nil {
					return err
				}

				parsedKind, err := domain.ParseFileKind(kind)
				if err != nil {
					return err
				}

				log := logger.FromContext(ctx)
				log.Info().
					Str("file", file).
					Str("file_kind", kind).
					Str("card_id", cardID).
					Msg("Starting ingestion")

				resp, err := svc.Manager.Ingest(ctx, pipeline.IngestRequest{
					FileContent:  encodeContent(data, parsedKind),
					FileKind:     kind,
					Filename:     inputName(file),
					CardID:       cardID,
					HouseID:      houseID,
					InvoiceMonth: month,
					UserID:       opts.userID,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Local path or gs:// URI of the invoice (required)")
	cmd.Flags().StringVar(&kind, "kind", "", "File kind: pdf, csv or excel (default: from the extension)")
	cmd.Flags().StringVar(&cardID, "card", "", "Card id (required)")
	cmd.Flags().StringVar(&houseID, "house", "", "House id (required)")
	cmd.Flags().StringVar(&month, "month", "", "Invoice month as YYYY-MM (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall deadline")
	for _, name := range []string{"file", "card", "house", "month"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newReviewCmd(opts *options) *cobra.Command {
	var uploadID, approvedFile string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Resolve an upload pending review",
		Long: `Imports the approved possible duplicates of an upload and completes it.
Without --approved every possible duplicate is discarded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			approved := []domain.Candidate{}
			if approvedFile != "" {
				data, err := os.ReadFile(approvedFile)
				if err != nil {
					return fmt.Errorf("read %s: %w", approvedFile, err)
				}
				if err := json.Unmarshal(data, &approved); err != nil {
					return fmt.Errorf("decode %s: %w", approvedFile, err)
				}
			}

			return withServices(cmd, opts, func(ctx context.Context, svc *app.Services) error {
				resp, err := svc.Manager.Review(ctx, pipeline.ReviewRequest{
					UploadID:             uploadID,
					ApprovedTransactions: approved,
					UserID:               opts.userID,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}

	cmd.Flags().StringVar(&uploadID, "upload", "", "Upload id (required)")
	cmd.Flags().StringVar(&approvedFile, "approved", "", "JSON file with the approved transactions")
	_ = cmd.MarkFlagRequired("upload")
	return cmd
}

func newUndoCmd(opts *options) *cobra.Command {
	var uploadID string

	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Remove every transaction imported by an upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, opts, func(ctx context.Context, svc *app.Services) error {
				ok, err := svc.Manager.Undo(ctx, pipeline.UndoRequest{UploadID: uploadID, UserID: opts.userID})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]bool{"success": ok})
			})
		},
	}

	cmd.Flags().StringVar(&uploadID, "upload", "", "Upload id (required)")
	_ = cmd.MarkFlagRequired("upload")
	return cmd
}

func newUploadsCmd(opts *options) *cobra.Command {
	var houseID string

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List the uploads of a house, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, opts, func(ctx context.Context, svc *app.Services) error {
				uploads, err := svc.Manager.Uploads(ctx, houseID, opts.userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), uploads)
			})
		},
	}

	cmd.Flags().StringVar(&houseID, "house", "", "House id (required)")
	_ = cmd.MarkFlagRequired("house")
	return cmd
}

func newBillingMonthCmd() *cobra.Command {
	var closingDay int

	cmd := &cobra.Command{
		Use:   "billing-month YYYY-MM-DD",
		Short: "Show which invoice a purchase date falls into",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := civil.ParseDate(args[0])
			if err != nil {
				return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", args[0])
			}

			day := billing.ClosingDayOr(&domain.Card{ClosingDay: closingDay}, billing.DefaultClosingDay)
			month, deferred := billing.BillingMonth(date, day)
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"date":         date,
				"closingDay":   day,
				"billingMonth": month,
				"deferred":     deferred,
			})
		},
	}

	cmd.Flags().IntVar(&closingDay, "closing-day", billing.DefaultClosingDay, "Card closing day (1-28)")
	return cmd
}

func newSyncNotionCmd(opts *options) *cobra.Command {
	var (
		houseID, token, databaseID string
		dryRun                     bool
	)

	cmd := &cobra.Command{
		Use:   "sync-notion",
		Short: "Mirror a house ledger into a Notion database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			if token == "" {
				token = cfg.Notion.Token
			}
			if databaseID == "" {
				databaseID = cfg.Notion.DatabaseID
			}
			if token == "" || databaseID == "" {
				return fmt.Errorf("notion token and database id are required (flags or notion.* config)")
			}

			ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			defer cancel()

			repo, err := app.OpenRepository(ctx, cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			syncer := notionsync.NewSyncer(repo, notionsync.NewNotionClient(token), databaseID)
			result, err := syncer.SyncHouse(ctx, houseID, dryRun)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&houseID, "house", "", "House id (required)")
	cmd.Flags().StringVar(&token, "notion-token", "", "Notion API token (default: notion.token)")
	cmd.Flags().StringVar(&databaseID, "notion-db-id", "", "Notion database id (default: notion.database_id)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview changes without writing to Notion")
	_ = cmd.MarkFlagRequired("house")
	return cmd
}

// readInput loads a local file or a gs:// object.
func readInput(ctx context.Context, path string) ([]byte, error) {
	if strings.HasPrefix(path, "gs://") {
		return gcsuploader.FetchFromGCS(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func inputName(path string) string {
	if strings.HasPrefix(path, "gs://") {
		return gcsuploader.ExtractFilenameFromGCSURI(path)
	}
	return filepath.Base(path)
}

// kindFromFilename guesses the file kind from the extension.
func kindFromFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return string(domain.FileKindPDF)
	case ".csv", ".txt":
		return string(domain.FileKindCSV)
	case ".xls", ".xlsx":
		return string(domain.FileKindExcel)
	default:
		return ""
	}
}

// encodeContent renders file bytes as the request's fileContent.
func encodeContent(data []byte, kind domain.FileKind) string {
	if kind == domain.FileKindCSV {
		return string(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}
