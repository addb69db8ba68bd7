package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/genai"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

func TestFindJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "bare object",
			text: `{"transactions": []}`,
			want: `{"transactions": []}`,
		},
		{
			name: "surrounded by prose and fences",
			text: "Here you go:\n```json\n{\"transactions\": [{\"a\": 1}]}\n```\nLet me know!",
			want: `{"transactions": [{"a": 1}]}`,
		},
		{
			name: "braces inside strings",
			text: `ok {"transactions": [{"description": "LOJA {CENTRO} \"}\""}]} trailing }`,
			want: `{"transactions": [{"description": "LOJA {CENTRO} \"}\""}]}`,
		},
		{
			name: "skips invalid balanced prefix",
			text: `Note {not json} then {"transactions": []}`,
			want: `{"transactions": []}`,
		},
		{
			name: "first object wins",
			text: `{"transactions": []} {"other": true}`,
			want: `{"transactions": []}`,
		},
		{name: "no object", text: "I could not read the file.", wantErr: true},
		{name: "unbalanced", text: `{"transactions": [`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindJSONObject(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCandidates(t *testing.T) {
	raw := "Sure! ```json\n" + `{"transactions": [
		{"description": "UBER *UBER TRIP", "date": "2024-03-10", "amount": 25.40, "installment": null, "category": "transporte"},
		{"description": "LOJA XPTO", "date": "2024-03-02", "amount": "300.00", "installment": "2 / 10", "category": "casa"},
		{"description": "ESTORNO", "date": "2024-03-05", "amount": -10, "category": ""},
		{"description": "BAD INSTALLMENT", "date": "2024-03-06", "amount": 5, "installment": "11/10"},
		{"description": "", "date": "2024-03-07", "amount": 1},
		{"description": "NO DATE", "amount": 1},
		{"description": "BAD DATE", "date": "10/03/2024", "amount": 1},
		{"description": "ZERO", "date": "2024-03-08", "amount": 0},
		"not an object"
	]}` + "\n```"

	candidates, skipped, err := ParseCandidates(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 5, skipped)
	require.Len(t, candidates, 4)

	assert.Equal(t, "UBER *UBER TRIP", candidates[0].Description)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 10}, candidates[0].Date)
	assert.Equal(t, "25.4", candidates[0].Amount.String())
	assert.Equal(t, "", candidates[0].Installment)
	assert.Equal(t, "transporte", candidates[0].Category)

	assert.Equal(t, "2/10", candidates[1].Installment)
	assert.Equal(t, "300", candidates[1].Amount.String())

	assert.True(t, candidates[2].Amount.IsNegative())
	assert.Equal(t, "", candidates[2].Category)

	assert.Equal(t, "", candidates[3].Installment)
}

func TestParseCandidates_EmptyListIsNotAnError(t *testing.T) {
	candidates, skipped, err := ParseCandidates(context.Background(), `{"transactions": []}`)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, skipped)
}

func TestParseCandidates_Malformed(t *testing.T) {
	tests := map[string]string{
		"no json":            "The document is not an invoice.",
		"missing key":        `{"rows": []}`,
		"transactions typed": `{"transactions": "none"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseCandidates(context.Background(), raw)
			require.Error(t, err)
			var parseErr *domain.ParseError
			assert.ErrorAs(t, err, &parseErr)
			assert.ErrorIs(t, err, domain.ErrMalformedResponse)
		})
	}
}

func TestDecodeContent(t *testing.T) {
	pdf := []byte("%PDF-1.4 fake")
	encoded := base64.StdEncoding.EncodeToString(pdf)

	got, err := DecodeContent(encoded, domain.FileKindPDF)
	require.NoError(t, err)
	assert.Equal(t, pdf, got)

	got, err = DecodeContent("data:application/pdf;base64,"+encoded, domain.FileKindPDF)
	require.NoError(t, err)
	assert.Equal(t, pdf, got)

	got, err = DecodeContent("date;description;amount\n2024-03-01;PADARIA;10,00", domain.FileKindCSV)
	require.NoError(t, err)
	assert.Contains(t, string(got), "PADARIA")

	got, err = DecodeContent("data:text/csv;base64,"+base64.StdEncoding.EncodeToString([]byte("a,b")), domain.FileKindCSV)
	require.NoError(t, err)
	assert.Equal(t, "a,b", string(got))

	_, err = DecodeContent("not base64 !!", domain.FileKindExcel)
	assert.Error(t, err)

	_, err = DecodeContent("   ", domain.FileKindCSV)
	assert.Error(t, err)

	_, err = DecodeContent("data:text/csv;base64,"+base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 'a'}), domain.FileKindCSV)
	assert.ErrorContains(t, err, "UTF-8")
}

func TestDecodeContent_Workbook(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"2024-03-01", "PADARIA", "10.50"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := DecodeContent(base64.StdEncoding.EncodeToString(buf.Bytes()), domain.FileKindExcel)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), got)

	_, err = DecodeContent(base64.StdEncoding.EncodeToString([]byte("plain text")), domain.FileKindExcel)
	assert.ErrorContains(t, err, "not a readable workbook")
}

func TestFlattenSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Data", "Descrição", "Valor"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"2024-03-01", "PADARIA, CENTRO", "10.50"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]interface{}{"2024-03-02", "UBER", "22"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	text, err := flattenSpreadsheet(buf.Bytes())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# sheet: Sheet1", lines[0])
	assert.Equal(t, "Data,Descrição,Valor", lines[1])
	assert.Equal(t, `2024-03-01,"PADARIA, CENTRO",10.50`, lines[2])
	assert.Equal(t, "2024-03-02,UBER,22", lines[3])
}

func TestFlattenSpreadsheet_NotAWorkbook(t *testing.T) {
	_, err := flattenSpreadsheet([]byte("plain text"))
	assert.Error(t, err)
}

type fakeGenerator struct {
	gotModel    string
	gotContents []*genai.Content
	text        string
	err         error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotContents = contents
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: f.text}}}},
		},
	}, nil
}

func TestGeminiExtractor_PDF(t *testing.T) {
	gen := &fakeGenerator{text: `{"transactions": [{"description": "MERCADO", "date": "2024-03-01", "amount": 12.5, "category": "mercado"}]}`}
	ex := newGeminiExtractor(gen, "")

	result, err := ex.Extract(context.Background(), []byte("%PDF"), domain.FileKindPDF)
	require.NoError(t, err)

	assert.Equal(t, DefaultModelName, gen.gotModel)
	require.Len(t, gen.gotContents, 1)
	parts := gen.gotContents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "copied EXACTLY")
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "application/pdf", parts[1].InlineData.MIMEType)

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "MERCADO", result.Candidates[0].Description)
	assert.Equal(t, gen.text, result.Raw)
}

func TestGeminiExtractor_CSVAsText(t *testing.T) {
	gen := &fakeGenerator{text: `{"transactions": []}`}
	ex := newGeminiExtractor(gen, "gemini-test")

	result, err := ex.Extract(context.Background(), []byte("a;b;c"), domain.FileKindCSV)
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
	assert.Equal(t, "gemini-test", gen.gotModel)
	assert.Equal(t, "a;b;c", gen.gotContents[0].Parts[1].Text)
}

func TestGeminiExtractor_MalformedResponseKeepsRaw(t *testing.T) {
	gen := &fakeGenerator{text: "I cannot help with that."}
	ex := newGeminiExtractor(gen, "")

	result, err := ex.Extract(context.Background(), []byte("a,b"), domain.FileKindCSV)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
	require.NotNil(t, result)
	assert.Equal(t, "I cannot help with that.", result.Raw)
}

func TestGeminiExtractor_EmptyResponse(t *testing.T) {
	ex := newGeminiExtractor(&fakeGenerator{text: "  "}, "")

	_, err := ex.Extract(context.Background(), []byte("a,b"), domain.FileKindCSV)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestClassifyServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Too many requests, slow down"}, domain.ErrRateLimited},
		{"quota", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "You exceeded your current quota"}, domain.ErrQuotaExceeded},
		{"payment required", genai.APIError{Code: 402, Message: "billing disabled"}, domain.ErrQuotaExceeded},
		{"server error", genai.APIError{Code: 503, Message: "overloaded"}, domain.ErrUnavailable},
		{"wrapped", fmt.Errorf("call: %w", genai.APIError{Code: 429, Message: "rate"}), domain.ErrRateLimited},
		{"timeout", context.DeadlineExceeded, domain.ErrUnavailable},
		{"plain", errors.New("connection reset"), domain.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyServiceError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			var extErr *domain.ExtractionError
			require.ErrorAs(t, got, &extErr)
			assert.Equal(t, tt.err, extErr.Err)
		})
	}
}

func TestGeminiExtractor_ServiceError(t *testing.T) {
	ex := newGeminiExtractor(&fakeGenerator{err: genai.APIError{Code: 429, Message: "quota exceeded for model"}}, "")

	_, err := ex.Extract(context.Background(), []byte("a,b"), domain.FileKindCSV)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestGeminiExtractor_RejectsInvalidSpreadsheet(t *testing.T) {
	gen := &fakeGenerator{text: `{"transactions": []}`}
	_, err := newGeminiExtractor(gen, "").Extract(context.Background(), []byte("nope"), domain.FileKindExcel)

	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Nil(t, gen.gotContents)
}
