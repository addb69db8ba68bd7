package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/invoice-ingest/internal/logger"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// migrator applies migrations to one kind of database.
type migrator interface {
	EnsureSchemaMigrations(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

var (
	driver        = flag.String("driver", "bigquery", "Target database: bigquery or postgres")
	projectID     = flag.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "GCP project ID (bigquery)")
	datasetID     = flag.String("dataset", "invoices", "BigQuery dataset ID")
	dsn           = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres connection string (postgres)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (default: migrations/<driver>)")
)

func main() {
	flag.Parse()

	log := logger.New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + *driver
	}

	var (
		m            migrator
		replacements map[string]string
		err          error
	)
	switch *driver {
	case "bigquery":
		if *projectID == "" {
			log.Fatal().Msg("Error: -project flag is required for bigquery. Please specify your GCP project ID.")
		}
		m, err = newBigQueryMigrator(ctx, *projectID, *datasetID)
		replacements = map[string]string{"{{PROJECT_ID}}": *projectID, "{{DATASET_ID}}": *datasetID}
	case "postgres":
		if *dsn == "" {
			log.Fatal().Msg("Error: -dsn flag (or DATABASE_URL) is required for postgres")
		}
		m, err = newPostgresMigrator(ctx, *dsn)
	default:
		log.Fatal().Str("driver", *driver).Msg("Error: unknown driver, expected bigquery or postgres")
	}
	if err != nil {
		log.Fatal().Err(err).Str("driver", *driver).Msg("Failed to connect")
	}
	defer m.Close()

	if err := run(ctx, log, m, dir, replacements); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

// run applies every migration in dir that is not yet recorded.
func run(ctx context.Context, log zerolog.Logger, m migrator, dir string, replacements map[string]string) error {
	if err := m.EnsureSchemaMigrations(ctx); err != nil {
		return err
	}

	migrations, err := readMigrations(log, dir, replacements)
	if err != nil {
		return err
	}
	log.Info().Int("count", len(migrations)).Str("dir", dir).Msg("Found migration files")

	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	appliedVersions := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedVersions[am.Version] = am
	}

	appliedCount := 0
	for _, migration := range migrations {
		if prev, ok := appliedVersions[migration.Version]; ok {
			if prev.Checksum != "" && prev.Checksum != migration.Checksum {
				log.Warn().
					Int("version", migration.Version).
					Str("name", migration.Name).
					Msg("Applied migration was modified after it ran")
			}
			log.Debug().Int("version", migration.Version).Str("name", migration.Name).Msg("Skipping applied migration")
			continue
		}

		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applying migration")
		if err := m.Apply(ctx, migration, *appliedBy); err != nil {
			return err
		}
		appliedCount++
	}

	if appliedCount == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("count", appliedCount).Msg("Successfully applied migrations")
	}
	return nil
}
