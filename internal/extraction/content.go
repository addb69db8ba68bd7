package extraction

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// DecodeContent turns the request's fileContent into raw bytes.
// Binary kinds (pdf, excel) must be base64, optionally as a data URL.
// Delimited text is taken as-is unless it is a base64 data URL.
// Delimited text must be UTF-8 and workbooks must open, so the extractor is
// never handed a file it cannot read.
func DecodeContent(content string, kind domain.FileKind) ([]byte, error) {
	data, err := decode(content, kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case domain.FileKindCSV:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("delimited text is not valid UTF-8")
		}
	case domain.FileKindExcel:
		if _, err := flattenSpreadsheet(data); err != nil {
			return nil, fmt.Errorf("excel content is not a readable workbook: %w", err)
		}
	}
	return data, nil
}

func decode(content string, kind domain.FileKind) ([]byte, error) {
	payload, isDataURL := stripDataURL(content)

	if kind == domain.FileKindCSV && !isDataURL {
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("file content is empty")
		}
		return []byte(content), nil
	}

	payload = strings.Join(strings.Fields(payload), "")
	if payload == "" {
		return nil, fmt.Errorf("file content is empty")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%s content is not valid base64: %w", kind, err)
		}
	}
	return data, nil
}

func stripDataURL(s string) (string, bool) {
	if !strings.HasPrefix(s, "data:") {
		return s, false
	}
	idx := strings.Index(s, ";base64,")
	if idx < 0 {
		return s, false
	}
	return s[idx+len(";base64,"):], true
}
