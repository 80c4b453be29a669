// Package model holds the records stored in the academy collections.
// JSON field names are the column names of the backing tables.
package model

import (
	"strings"
	"time"
)

// DateLayout is the calendar date format used by attendance rows.
const DateLayout = "2006-01-02"

// StatusPresent is the only attendance status the system writes.
const StatusPresent = "present"

// Timings are the fixed class slots.
var Timings = []string{
	"6:00pm - 7:00pm",
	"7:00pm - 8:00pm",
	"8:00pm - 9:00pm",
	"10:00am - 11:00am",
	"11:00am - 12:00pm",
}

// ValidTiming reports whether t is one of the fixed slots.
func ValidTiming(t string) bool {
	for _, v := range Timings {
		if v == t {
			return true
		}
	}
	return false
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// Student is an enrolled student.
type Student struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Course         string    `json:"course"`
	Fee            *int64    `json:"fee"` // total fee in minor units; nil means default
	ProfilePicture *string   `json:"profile_picture"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (s Student) RecordID() string { return s.ID }

// TotalFee returns the student's fee, or def when none is set.
func (s Student) TotalFee(def int64) int64 {
	if s.Fee == nil {
		return def
	}
	return *s.Fee
}

// AttendanceRecord marks one student present at one session. A row with a
// nil StudentID is a placeholder that makes an empty session discoverable.
type AttendanceRecord struct {
	ID          string    `json:"id"`
	StudentID   *string   `json:"student_id"`
	Date        string    `json:"date"`
	Timing      string    `json:"timing"`
	Status      string    `json:"status"`
	SessionName *string   `json:"session_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a AttendanceRecord) RecordID() string { return a.ID }

// IsPlaceholder reports whether the row only marks that a session exists.
func (a AttendanceRecord) IsPlaceholder() bool { return a.StudentID == nil }

// Name returns the session name or "" when unset.
func (a AttendanceRecord) Name() string {
	if a.SessionName == nil {
		return ""
	}
	return *a.SessionName
}

// FeeStatus is the state of a fee record.
type FeeStatus string

const (
	FeePaid    FeeStatus = "paid"
	FeePending FeeStatus = "pending"
)

// FeeRecord is one payment against a student's fee. Immutable once written.
type FeeRecord struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Amount    int64     `json:"amount"`
	Status    FeeStatus `json:"status"`
	PaymentID *string   `json:"payment_id"`
	OrderID   *string   `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (f FeeRecord) RecordID() string { return f.ID }

// OrderStatus is the state of a checkout attempt.
type OrderStatus string

const (
	OrderCreated            OrderStatus = "created"
	OrderAwaitingClient     OrderStatus = "awaiting_client"
	OrderPersisted          OrderStatus = "persisted"
	OrderVerificationFailed OrderStatus = "verification_failed"
	OrderAbandoned          OrderStatus = "abandoned"
)

// PaymentOrder links a gateway order to the student it was created for.
type PaymentOrder struct {
	ID        string      `json:"id"` // gateway order id
	StudentID string      `json:"student_id"`
	Amount    int64       `json:"amount"`
	Currency  string      `json:"currency"`
	Receipt   string      `json:"receipt"`
	Status    OrderStatus `json:"status"`
	PaymentID *string     `json:"payment_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (o PaymentOrder) RecordID() string { return o.ID }

// ApplicationStatus is the review state of an enrolment application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Application is an enrolment enquiry submitted from the public site.
type Application struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Course    string            `json:"course"`
	Message   *string           `json:"message"`
	Status    ApplicationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

func (a Application) RecordID() string { return a.ID }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
