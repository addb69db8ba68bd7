package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// SaveModelOutput inserts the raw extractor response of an upload into
// model_outputs.
func (r *Repository) SaveModelOutput(ctx context.Context, output *domain.ModelOutput) error {
	row := modelOutputToRow(output)

	_, err := r.exec(ctx, `
		INSERT INTO `+r.table(modelOutputsTable)+` (
			output_id, upload_id, model_name, raw_text,
			tokens_input, tokens_output, created_ts
		)
		VALUES (
			@output_id, @upload_id, @model_name, @raw_text,
			@tokens_input, @tokens_output, @created_ts
		)
	`, []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "upload_id", Value: row.UploadID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "raw_text", Value: row.RawText},
		{Name: "tokens_input", Value: row.TokensInput},
		{Name: "tokens_output", Value: row.TokensOutput},
		{Name: "created_ts", Value: row.CreatedTS},
	})
	if err != nil {
		return fmt.Errorf("SaveModelOutput: %w", err)
	}
	return nil
}
