package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

type bigQueryMigrator struct {
	client  *bigquery.Client
	table   string
	project string
	dataset string
}

func newBigQueryMigrator(ctx context.Context, projectID, datasetID string) (*bigQueryMigrator, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create BigQuery client: %w", err)
	}
	return &bigQueryMigrator{
		client:  client,
		table:   fmt.Sprintf("`%s.%s.schema_migrations`", projectID, datasetID),
		project: projectID,
		dataset: datasetID,
	}, nil
}

func (b *bigQueryMigrator) Close() error {
	return b.client.Close()
}

func (b *bigQueryMigrator) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := b.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// EnsureSchemaMigrations creates the schema_migrations table if it doesn't exist
func (b *bigQueryMigrator) EnsureSchemaMigrations(ctx context.Context) error {
	err := b.exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+b.table+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, nil)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations in %s.%s: %w", b.project, b.dataset, err)
	}
	return nil
}

// Applied retrieves the list of already applied migrations
func (b *bigQueryMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	query := b.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + b.table + `
		ORDER BY version ASC
	`)
	it, err := query.Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}

	return applied, nil
}

// Apply runs the migration script and records it. BigQuery DDL is not
// transactional, so a failed record leaves an applied but unrecorded migration;
// the migrations use IF NOT EXISTS and can be re-run.
func (b *bigQueryMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := b.exec(ctx, m.SQL, nil); err != nil {
		return fmt.Errorf("execute migration %04d_%s: %w", m.Version, m.Name, err)
	}

	err := b.exec(ctx, `
		INSERT INTO `+b.table+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	})
	if err != nil {
		return fmt.Errorf("record migration %04d_%s: %w", m.Version, m.Name, err)
	}
	return nil
}
