// Package app builds the services shared by the binaries from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/invoice-ingest/internal/config"
	"github.com/dvloznov/invoice-ingest/internal/extraction"
	"github.com/dvloznov/invoice-ingest/internal/gcsuploader"
	infraBQ "github.com/dvloznov/invoice-ingest/internal/infra/bigquery"
	"github.com/dvloznov/invoice-ingest/internal/infra/postgres"
	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/pipeline"
	"github.com/dvloznov/invoice-ingest/internal/reconcile"
	"github.com/dvloznov/invoice-ingest/internal/store"
	"github.com/dvloznov/invoice-ingest/internal/store/memory"
)

// OpenRepository opens the store selected by cfg.Store.Driver.
func OpenRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		repo := memory.NewStore()
		if cfg.Store.SeedFile != "" {
			if err := repo.LoadSeedFile(cfg.Store.SeedFile); err != nil {
				return nil, fmt.Errorf("OpenRepository: %w", err)
			}
		}
		return repo, nil
	case config.DriverBigQuery:
		repo, err := infraBQ.NewRepository(ctx, cfg.Store.ProjectID, cfg.Store.Dataset)
		if err != nil {
			return nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return repo, nil
	case config.DriverPostgres:
		repo, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("OpenRepository: unknown store driver %q", cfg.Store.Driver)
	}
}

// Services are the long-lived dependencies of a Manager.
type Services struct {
	Repo    store.Repository
	Manager *pipeline.Manager
	archive *gcsuploader.Archive
}

// Close releases the archive client and the store.
func (s *Services) Close() error {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			return fmt.Errorf("Close: archive: %w", err)
		}
	}
	if err := s.Repo.Close(); err != nil {
		return fmt.Errorf("Close: store: %w", err)
	}
	return nil
}

// NewServices opens the store, the extractor and, when a bucket is configured,
// the upload archive, and builds a Manager over them.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	log := logger.FromContext(ctx)

	repo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewServices: %w", err)
	}

	extractor, err := extraction.NewGeminiExtractor(ctx, cfg.Extraction.APIKey, cfg.Extraction.Model)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("NewServices: %w", err)
	}

	opts := pipeline.Options{
		ExtractionTimeout: cfg.ExtractionTimeout(),
		DefaultClosingDay: cfg.Billing.DefaultClosingDay,
	}

	svc := &Services{Repo: repo}
	if cfg.Archive.Bucket != "" {
		archive, err := gcsuploader.NewArchive(ctx, cfg.Archive.Bucket)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("NewServices: %w", err)
		}
		svc.archive = archive
		opts.Archive = archive
	} else {
		log.Warn().Msg("No archive bucket configured - raw uploads will not be kept")
	}

	reconciler := reconcile.New(cfg.Reconcile.Threshold, cfg.Reconcile.MinLength)
	svc.Manager = pipeline.NewManager(repo, extractor, reconciler, opts)

	log.Info().
		Str("store_driver", cfg.Store.Driver).
		Str("model", cfg.Extraction.Model).
		Bool("archive_enabled", svc.archive != nil).
		Msg("Services initialized")
	return svc, nil
}
