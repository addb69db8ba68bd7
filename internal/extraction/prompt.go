package extraction

import (
	"strings"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

const basePrompt = "You are a credit card invoice parser.\n\n" +
	"Task:\n" +
	"- Extract EVERY purchase, fee, refund and credit line of the attached invoice.\n" +
	"- Output STRICT JSON only: one object of the form {\"transactions\": [...]}.\n\n" +
	"Each element of \"transactions\" must have these fields:\n" +
	"- \"description\": string, copied EXACTLY as printed. Do not translate, expand, abbreviate or fix it.\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\". Infer the year from the invoice when the line omits it.\n" +
	"- \"amount\": number with a dot as decimal separator. Purchases are positive, refunds and credits negative.\n" +
	"- \"installment\": string \"current/total\" such as \"2/12\" when the line is an installment, otherwise null.\n" +
	"- \"category\": string, a short spending category in the invoice's language (e.g. groceries, transport).\n\n"

const rulesPrompt = "Rules:\n" +
	"- Emit ONLY real transaction rows. Never emit totals, subtotals, balances, payments of the previous invoice, headers or summaries.\n" +
	"- Never merge or split lines. One printed line is one element.\n" +
	"- If there are no transactions, return {\"transactions\": []}.\n" +
	"- Return ONLY the raw JSON object. Do NOT wrap it in code fences or add commentary.\n"

// buildPrompt returns the instruction block for one file kind.
func buildPrompt(kind domain.FileKind) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	switch kind {
	case domain.FileKindPDF:
		b.WriteString("The invoice is the attached PDF document.\n\n")
	case domain.FileKindExcel:
		b.WriteString("The invoice is a spreadsheet converted to CSV below. Each sheet starts with a \"# sheet:\" line. Ignore columns that are not transaction data.\n\n")
	case domain.FileKindCSV:
		b.WriteString("The invoice is the delimited text below. Detect the delimiter and header row yourself.\n\n")
	}

	b.WriteString(rulesPrompt)
	return b.String()
}
