package model

import "time"

// HandOver is a loan of product units to an employee.
type HandOver struct {
	ID                 int64      `json:"id"`
	ProductID          string     `json:"product_id"`
	EmployeeID         int64      `json:"employee_id"`
	Quantity           int        `json:"quantity"`
	ReturnedQuantity   int        `json:"returned_quantity"`
	Status             string     `json:"status"`
	Purpose            string     `json:"purpose,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	ApprovalNotes      string     `json:"approval_notes,omitempty"`
	ReturnNotes        string     `json:"return_notes,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	RequestedBy        *int64     `json:"requested_by,omitempty"`
	HandedOverBy       *int64     `json:"handed_over_by,omitempty"`
	ReturnedBy         *int64     `json:"returned_by,omitempty"`
	RejectedBy         *int64     `json:"rejected_by,omitempty"`
	HandOverDate       *time.Time `json:"hand_over_date,omitempty"`
	ExpectedReturnDate *time.Time `json:"expected_return_date,omitempty"`
	ActualReturnDate   *time.Time `json:"actual_return_date,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	// Joined fields (not always populated).
	ProductSeq    int64  `json:"product_seq,omitempty"`
	ProductName   string `json:"product_name,omitempty"`
	EmployeeEmail string `json:"employee_email,omitempty"`
	EmployeeName  string `json:"employee_name,omitempty"`
}

// Handover statuses.
const (
	StatusPending    = "pending"
	StatusHandedOver = "handed_over"
	StatusReturned   = "returned"
	StatusRejected   = "rejected"
)

// Statuses lists every handover status.
var Statuses = []string{StatusPending, StatusHandedOver, StatusReturned, StatusRejected}

// ValidStatus reports whether s is a known handover status.
func ValidStatus(s string) bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the status.
func Terminal(status string) bool {
	return status == StatusReturned || status == StatusRejected
}

// Outstanding is the number of units still out with the employee.
func (h *HandOver) Outstanding() int {
	if h.Status != StatusHandedOver {
		return 0
	}
	return h.Quantity - h.ReturnedQuantity
}

// Overdue reports whether the loan is out past its expected return date.
func (h *HandOver) Overdue(now time.Time) bool {
	return h.Status == StatusHandedOver && h.ExpectedReturnDate != nil && h.ExpectedReturnDate.Before(now)
}

// Text field limits.
const (
	MaxPurposeLength = 500
	MaxNotesLength   = 1000
)

// HandoverStats aggregates handover counts.
type HandoverStats struct {
	ByStatus map[string]int `json:"by_status"`
	Overdue  int            `json:"overdue"`
	Total    int            `json:"total"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}
