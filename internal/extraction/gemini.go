package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/logger"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor extracts transactions with a Gemini model.
type GeminiExtractor struct {
	models contentGenerator
	model  string
}

// NewGeminiExtractor creates a GenAI client. With an empty apiKey the client
// falls back to the environment (GOOGLE_API_KEY or Vertex AI settings).
func NewGeminiExtractor(ctx context.Context, apiKey, model string) (*GeminiExtractor, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExtractor: create genai client: %w", err)
	}
	return newGeminiExtractor(client.Models, model), nil
}

func newGeminiExtractor(models contentGenerator, model string) *GeminiExtractor {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{models: models, model: model}
}

// Extract sends the file and the instruction block in one request and parses
// the response. When the response cannot be parsed the returned Result still
// carries the raw text.
func (g *GeminiExtractor) Extract(ctx context.Context, content []byte, kind domain.FileKind) (*Result, error) {
	log := logger.FromContext(ctx)

	parts, err := buildParts(kind, content)
	if err != nil {
		return nil, fmt.Errorf("Extract: %w", err)
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Extract: generate content: %w", classifyServiceError(err))
	}

	result := &Result{Raw: resp.Text(), Model: g.model}
	if resp.UsageMetadata != nil {
		result.TokensInput = int64(resp.UsageMetadata.PromptTokenCount)
		result.TokensOutput = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	if strings.TrimSpace(result.Raw) == "" {
		return result, fmt.Errorf("Extract: %w", &domain.ParseError{Reason: "empty response from model"})
	}

	candidates, skipped, err := ParseCandidates(ctx, result.Raw)
	if err != nil {
		return result, fmt.Errorf("Extract: %w", err)
	}
	result.Candidates = candidates
	result.Skipped = skipped

	log.Info().
		Str("model", g.model).
		Str("file_kind", string(kind)).
		Int("candidates", len(candidates)).
		Int("skipped", skipped).
		Int64("tokens_input", result.TokensInput).
		Int64("tokens_output", result.TokensOutput).
		Msg("Extraction finished")

	return result, nil
}

func buildParts(kind domain.FileKind, content []byte) ([]*genai.Part, error) {
	prompt := &genai.Part{Text: buildPrompt(kind)}

	switch kind {
	case domain.FileKindPDF:
		return []*genai.Part{
			prompt,
			{InlineData: &genai.Blob{MIMEType: "application/pdf", Data: content}},
		}, nil
	case domain.FileKindExcel:
		text, err := flattenSpreadsheet(content)
		if err != nil {
			return nil, &domain.ValidationError{Field: "fileContent", Reason: err.Error()}
		}
		return []*genai.Part{prompt, {Text: text}}, nil
	case domain.FileKindCSV:
		if !utf8.Valid(content) {
			return nil, &domain.ValidationError{Field: "fileContent", Reason: "delimited text is not valid UTF-8"}
		}
		return []*genai.Part{prompt, {Text: string(content)}}, nil
	default:
		return nil, &domain.ValidationError{Field: "fileKind", Reason: fmt.Sprintf("unsupported kind %q", kind)}
	}
}

// classifyServiceError maps a GenAI failure onto the extraction error kinds.
func classifyServiceError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.ExtractionError{Kind: domain.ErrUnavailable, Err: err}
	}

	code, text := 0, strings.ToLower(err.Error())
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
		text = strings.ToLower(apiErr.Status + " " + apiErr.Message)
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
		text = strings.ToLower(apiErrPtr.Status + " " + apiErrPtr.Message)
	}

	switch {
	case code == http.StatusPaymentRequired:
		return &domain.ExtractionError{Kind: domain.ErrQuotaExceeded, Err: err}
	case code == http.StatusTooManyRequests || strings.Contains(text, "resource_exhausted"):
		if strings.Contains(text, "quota") {
			return &domain.ExtractionError{Kind: domain.ErrQuotaExceeded, Err: err}
		}
		return &domain.ExtractionError{Kind: domain.ErrRateLimited, Err: err}
	default:
		return &domain.ExtractionError{Kind: domain.ErrUnavailable, Err: err}
	}
}
