package handover

import (
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/predaja/internal/model"
)

// Event is a handover lifecycle event.
type Event string

// Events.
const (
	EventIssue        Event = "issue"
	EventRequest      Event = "request"
	EventApprove      Event = "approve"
	EventReject       Event = "reject"
	EventReturn       Event = "return"
	EventMarkReturned Event = "mark_returned"
	EventDelete       Event = "delete"
)

// sources lists the statuses each event may fire from. Creation events have
// no source record.
var sources = map[Event][]string{
	EventIssue:        nil,
	EventRequest:      nil,
	EventApprove:      {model.StatusPending},
	EventReject:       {model.StatusPending},
	EventReturn:       {model.StatusHandedOver},
	EventMarkReturned: {model.StatusHandedOver},
	EventDelete:       model.Statuses,
}

// Allowed reports whether ev may fire on a record in status from.
func Allowed(ev Event, from string) bool {
	for _, s := range sources[ev] {
		if s == from {
			return true
		}
	}
	return false
}

func checkTransition(ev Event, h *model.HandOver) error {
	if !Allowed(ev, h.Status) {
		return fmt.Errorf("%w: cannot %s handover %d in status %s", model.ErrInvalidTransition, ev, h.ID, h.Status)
	}
	return nil
}

// Command is one planned transition: the record before and after, and the
// stock change that goes with it. Applied as a single transaction.
type Command struct {
	Event      Event
	ProductID  string
	From       *model.HandOver // nil when creating
	Next       *model.HandOver // nil when deleting
	StockDelta int
}

// Draft holds the fields supplied when creating a handover.
type Draft struct {
	ProductID          string
	EmployeeID         int64
	Quantity           int
	Purpose            string
	Notes              string
	ExpectedReturnDate *time.Time
}

func (d Draft) validate() error {
	switch {
	case d.ProductID == "":
		return fmt.Errorf("%w: product is required", model.ErrValidation)
	case d.EmployeeID <= 0:
		return fmt.Errorf("%w: employee is required", model.ErrValidation)
	case d.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	if err := checkLength("purpose", d.Purpose, model.MaxPurposeLength); err != nil {
		return err
	}
	return checkLength("notes", d.Notes, model.MaxNotesLength)
}

func checkLength(field, value string, max int) error {
	if len([]rune(value)) > max {
		return fmt.Errorf("%w: %s must be at most %d characters", model.ErrValidation, field, max)
	}
	return nil
}

func (d Draft) record(status string, now time.Time) *model.HandOver {
	return &model.HandOver{
		ProductID:          d.ProductID,
		EmployeeID:         d.EmployeeID,
		Quantity:           d.Quantity,
		Status:             status,
		Purpose:            strings.TrimSpace(d.Purpose),
		Notes:              strings.TrimSpace(d.Notes),
		ExpectedReturnDate: d.ExpectedReturnDate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func planIssue(d Draft, issuerID int64, now time.Time) (*Command, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	next := d.record(model.StatusHandedOver, now)
	next.HandedOverBy = &issuerID
	next.HandOverDate = &now
	return &Command{Event: EventIssue, ProductID: d.ProductID, Next: next, StockDelta: -d.Quantity}, nil
}

func planRequest(d Draft, requesterID int64, now time.Time) (*Command, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	next := d.record(model.StatusPending, now)
	next.RequestedBy = &requesterID
	return &Command{Event: EventRequest, ProductID: d.ProductID, Next: next}, nil
}

func planApprove(h *model.HandOver, approverID int64, notes string, now time.Time) (*Command, error) {
	if err := checkTransition(EventApprove, h); err != nil {
		return nil, err
	}
	if err := checkLength("approval notes", notes, model.MaxNotesLength); err != nil {
		return nil, err
	}
	next := *h
	next.Status = model.StatusHandedOver
	next.ApprovalNotes = strings.TrimSpace(notes)
	next.HandedOverBy = &approverID
	next.HandOverDate = &now
	next.UpdatedAt = now
	return &Command{Event: EventApprove, ProductID: h.ProductID, From: h, Next: &next, StockDelta: -h.Quantity}, nil
}

func planReject(h *model.HandOver, rejectorID int64, reason string, now time.Time) (*Command, error) {
	if err := checkTransition(EventReject, h); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", model.ErrValidation)
	}
	if err := checkLength("rejection reason", reason, model.MaxNotesLength); err != nil {
		return nil, err
	}
	next := *h
	next.Status = model.StatusRejected
	next.RejectionReason = reason
	next.RejectedBy = &rejectorID
	next.RejectedAt = &now
	next.UpdatedAt = now
	return &Command{Event: EventReject, ProductID: h.ProductID, From: h, Next: &next}, nil
}

// planReturn books qty units coming back from the borrower. The record is
// closed once everything is back.
func planReturn(h *model.HandOver, returnerID int64, qty int, notes string, now time.Time) (*Command, error) {
	if returnerID != h.EmployeeID {
		return nil, fmt.Errorf("%w: only the borrowing employee can return handover %d", model.ErrForbidden, h.ID)
	}
	if err := checkTransition(EventReturn, h); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: return quantity must be positive", model.ErrValidation)
	}
	if out := h.Outstanding(); qty > out {
		return nil, fmt.Errorf("%w: return quantity %d exceeds outstanding %d", model.ErrValidation, qty, out)
	}
	if err := checkLength("return notes", notes, model.MaxNotesLength); err != nil {
		return nil, err
	}

	next := *h
	next.ReturnedQuantity += qty
	next.ReturnedBy = &returnerID
	next.ReturnNotes = strings.TrimSpace(notes)
	next.UpdatedAt = now
	if next.ReturnedQuantity >= next.Quantity {
		next.Status = model.StatusReturned
		next.ActualReturnDate = &now
	}
	return &Command{Event: EventReturn, ProductID: h.ProductID, From: h, Next: &next, StockDelta: qty}, nil
}

// planMarkReturned closes a loan on the borrower's behalf, restoring
// whatever is still outstanding.
func planMarkReturned(h *model.HandOver, managerID int64, notes string, now time.Time) (*Command, error) {
	if err := checkTransition(EventMarkReturned, h); err != nil {
		return nil, err
	}
	if err := checkLength("return notes", notes, model.MaxNotesLength); err != nil {
		return nil, err
	}
	out := h.Outstanding()
	next := *h
	next.Status = model.StatusReturned
	next.ReturnedQuantity = h.Quantity
	next.ReturnedBy = &managerID
	next.ReturnNotes = strings.TrimSpace(notes)
	next.ActualReturnDate = &now
	next.UpdatedAt = now
	return &Command{Event: EventMarkReturned, ProductID: h.ProductID, From: h, Next: &next, StockDelta: out}, nil
}

// planDelete removes a record. A loan that is still out gives its
// outstanding units back first.
func planDelete(h *model.HandOver) (*Command, error) {
	if err := checkTransition(EventDelete, h); err != nil {
		return nil, err
	}
	return &Command{Event: EventDelete, ProductID: h.ProductID, From: h, StockDelta: h.Outstanding()}, nil
}
