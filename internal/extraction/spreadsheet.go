package extraction

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// flattenSpreadsheet renders every sheet of a workbook as CSV text, each sheet
// preceded by a "# sheet: <name>" line. Fully empty rows are dropped.
func flattenSpreadsheet(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("flattenSpreadsheet: open workbook: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("flattenSpreadsheet: read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		w.Flush()
		fmt.Fprintf(&buf, "# sheet: %s\n", sheet)
		for _, row := range rows {
			if isBlankRow(row) {
				continue
			}
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("flattenSpreadsheet: write row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flattenSpreadsheet: flush: %w", err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("flattenSpreadsheet: workbook has no data")
	}
	return buf.String(), nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
