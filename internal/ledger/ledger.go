// Package ledger computes what a student owes from their total fee and the
// paid fee records. All amounts are integer minor units.
package ledger

import (
	"sort"

	"academy/internal/model"
)

// Balance is a student's position. Raw keeps the signed value for audit
// (negative means overpaid); Pending is Raw clamped at zero for display.
type Balance struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name,omitempty"`
	TotalFee  int64  `json:"total_fee"`
	Paid      int64  `json:"paid"`
	Raw       int64  `json:"raw"`
	Pending   int64  `json:"pending"`
}

// Overpaid reports whether payments exceed the total fee.
func (b Balance) Overpaid() bool { return b.Raw < 0 }

// PendingBalance sums the student's paid records and subtracts them from the
// total fee; defaultFee applies when the student has no fee set.
func PendingBalance(student model.Student, records []model.FeeRecord, defaultFee int64) Balance {
	b := Balance{StudentID: student.ID, Name: student.Name, TotalFee: student.TotalFee(defaultFee)}
	for _, r := range records {
		if r.StudentID != student.ID || r.Status != model.FeePaid {
			continue
		}
		b.Paid += r.Amount
	}
	b.Raw = b.TotalFee - b.Paid
	b.Pending = b.Raw
	if b.Pending < 0 {
		b.Pending = 0
	}
	return b
}

// History returns the student's records newest first.
func History(studentID string, records []model.FeeRecord) []model.FeeRecord {
	out := make([]model.FeeRecord, 0, len(records))
	for _, r := range records {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
