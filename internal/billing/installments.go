package billing

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

var installmentPattern = regexp.MustCompile(`^\s*(\d{1,3})\s*/\s*(\d{1,3})\s*$`)

// Installment is a "current/total" label such as "2/12".
type Installment struct {
	Current int
	Total   int
}

func (i Installment) String() string {
	return fmt.Sprintf("%d/%d", i.Current, i.Total)
}

// Remaining is the number of installments still to be billed after this one.
func (i Installment) Remaining() int {
	return i.Total - i.Current
}

// ParseInstallment parses a label and checks total >= current >= 1.
func ParseInstallment(label string) (Installment, error) {
	m := installmentPattern.FindStringSubmatch(label)
	if m == nil {
		return Installment{}, fmt.Errorf("installment %q is not in current/total form", label)
	}
	current, _ := strconv.Atoi(m[1])
	total, _ := strconv.Atoi(m[2])
	if current < 1 || total < current {
		return Installment{}, fmt.Errorf("installment %q must satisfy total >= current >= 1", label)
	}
	return Installment{Current: current, Total: total}, nil
}

// Project returns the future occurrences of an installment purchase.
// The n-th projection is dated n months after base.Date and gets its own billing
// month. Description, amount, type and category are shared, and so is the
// recurrence group; IDs are left for the caller to assign. Unlabeled,
// single-installment or last-installment rows yield nothing.
func Project(base domain.Transaction, closingDay int) []domain.Transaction {
	if base.Installment == "" {
		return nil
	}
	inst, err := ParseInstallment(base.Installment)
	if err != nil || inst.Remaining() == 0 {
		return nil
	}

	out := make([]domain.Transaction, 0, inst.Remaining())
	for n := 1; n <= inst.Remaining(); n++ {
		next := base
		next.ID = ""
		next.Date = AddMonths(base.Date, n)
		next.BillingMonth, _ = BillingMonth(next.Date, closingDay)
		next.Installment = Installment{Current: inst.Current + n, Total: inst.Total}.String()
		out = append(out, next)
	}
	return out
}
