package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/predaja/internal/model"
)

const handoverSelect = `SELECT h.id, h.product_id, h.employee_id, h.quantity, h.returned_quantity, h.status,
	       h.purpose, h.notes, h.approval_notes, h.return_notes, h.rejection_reason,
	       h.requested_by, h.handed_over_by, h.returned_by, h.rejected_by,
	       h.hand_over_date, h.expected_return_date, h.actual_return_date, h.rejected_at,
	       h.created_at, h.updated_at,
	       p.seq AS product_seq, p.name AS product_name, u.email AS employee_email, u.name AS employee_name
	FROM handovers h
	JOIN products p ON p.id = h.product_id
	JOIN users u ON u.id = h.employee_id`

// HandoverFilter narrows ListHandovers. Zero values match everything.
type HandoverFilter struct {
	Status     string
	EmployeeID int64
	ProductID  string
	Overdue    bool
	Now        time.Time
}

func (f HandoverFilter) where() (string, []any) {
	where := ` WHERE 1=1`
	var args []any

	if f.Status != "" {
		where += ` AND h.status = ?`
		args = append(args, f.Status)
	}
	if f.EmployeeID > 0 {
		where += ` AND h.employee_id = ?`
		args = append(args, f.EmployeeID)
	}
	if f.ProductID != "" {
		where += ` AND h.product_id = ?`
		args = append(args, f.ProductID)
	}
	if f.Overdue {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		where += ` AND h.status = ? AND h.expected_return_date IS NOT NULL AND h.expected_return_date < ?`
		args = append(args, model.StatusHandedOver, now.UTC())
	}
	return where, args
}

func scanHandover(row rowScanner) (*model.HandOver, error) {
	h := &model.HandOver{}
	var purpose, notes, approvalNotes, returnNotes, rejectionReason sql.NullString
	err := row.Scan(&h.ID, &h.ProductID, &h.EmployeeID, &h.Quantity, &h.ReturnedQuantity, &h.Status,
		&purpose, &notes, &approvalNotes, &returnNotes, &rejectionReason,
		&h.RequestedBy, &h.HandedOverBy, &h.ReturnedBy, &h.RejectedBy,
		&h.HandOverDate, &h.ExpectedReturnDate, &h.ActualReturnDate, &h.RejectedAt,
		&h.CreatedAt, &h.UpdatedAt,
		&h.ProductSeq, &h.ProductName, &h.EmployeeEmail, &h.EmployeeName)
	if err != nil {
		return nil, err
	}
	h.Purpose = purpose.String
	h.Notes = notes.String
	h.ApprovalNotes = approvalNotes.String
	h.ReturnNotes = returnNotes.String
	h.RejectionReason = rejectionReason.String
	return h, nil
}

// InsertHandover stores a new handover record and returns its ID.
func InsertHandover(ctx context.Context, q DBTX, h *model.HandOver) (int64, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO handovers (product_id, employee_id, quantity, returned_quantity, status,
		                        purpose, notes, requested_by, handed_over_by,
		                        hand_over_date, expected_return_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ProductID, h.EmployeeID, h.Quantity, h.ReturnedQuantity, h.Status,
		h.Purpose, h.Notes, h.RequestedBy, h.HandedOverBy,
		utcPtr(h.HandOverDate), utcPtr(h.ExpectedReturnDate), h.CreatedAt.UTC(), h.UpdatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting handover: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting handover id: %w", err)
	}
	return id, nil
}

// GetHandover returns a handover by ID.
func GetHandover(ctx context.Context, q DBTX, id int64) (*model.HandOver, error) {
	h, err := scanHandover(q.QueryRowContext(ctx, handoverSelect+` WHERE h.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting handover: %w", err)
	}
	return h, nil
}

// ListHandovers returns a page of handovers, newest first, and the total
// number of matches.
func ListHandovers(ctx context.Context, q DBTX, f HandoverFilter, page, limit int) ([]model.HandOver, int, error) {
	where, args := f.where()

	var total int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM handovers h`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting handovers: %w", err)
	}

	_, limit, offset := pageOffset(page, limit)
	rows, err := q.QueryContext(ctx,
		handoverSelect+where+` ORDER BY h.created_at DESC, h.id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing handovers: %w", err)
	}
	defer rows.Close()

	var handovers []model.HandOver
	for rows.Next() {
		h, err := scanHandover(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning handover: %w", err)
		}
		handovers = append(handovers, *h)
	}
	return handovers, total, rows.Err()
}

// HandoverStats returns handover counts by status plus the overdue count,
// restricted to one employee when employeeID is positive.
func HandoverStats(ctx context.Context, q DBTX, employeeID int64, now time.Time) (model.HandoverStats, error) {
	f := HandoverFilter{EmployeeID: employeeID}
	where, args := f.where()

	stats := model.HandoverStats{ByStatus: make(map[string]int, len(model.Statuses))}
	for _, s := range model.Statuses {
		stats.ByStatus[s] = 0
	}

	rows, err := q.QueryContext(ctx,
		`SELECT h.status, COUNT(*) FROM handovers h`+where+` GROUP BY h.status`, args...,
	)
	if err != nil {
		return stats, fmt.Errorf("counting handovers by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scanning handover count: %w", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	f.Overdue = true
	f.Now = now
	where, args = f.where()
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM handovers h`+where, args...).Scan(&stats.Overdue); err != nil {
		return stats, fmt.Errorf("counting overdue handovers: %w", err)
	}
	return stats, nil
}

// UpdateHandoverState writes the mutable state of h, but only if the stored
// record still has status fromStatus and fromReturned returned units. A lost
// race is reported as ErrInvalidTransition.
func UpdateHandoverState(ctx context.Context, q DBTX, h *model.HandOver, fromStatus string, fromReturned int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE handovers SET status = ?, returned_quantity = ?,
		        approval_notes = ?, return_notes = ?, rejection_reason = ?,
		        handed_over_by = ?, returned_by = ?, rejected_by = ?,
		        hand_over_date = ?, actual_return_date = ?, rejected_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND returned_quantity = ?`,
		h.Status, h.ReturnedQuantity,
		h.ApprovalNotes, h.ReturnNotes, h.RejectionReason,
		h.HandedOverBy, h.ReturnedBy, h.RejectedBy,
		utcPtr(h.HandOverDate), utcPtr(h.ActualReturnDate), utcPtr(h.RejectedAt), h.UpdatedAt.UTC(),
		h.ID, fromStatus, fromReturned,
	)
	if err != nil {
		return fmt.Errorf("updating handover: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating handover: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: handover %d changed concurrently", model.ErrInvalidTransition, h.ID)
	}
	return nil
}

// DeleteHandover removes a handover if it still has status fromStatus.
func DeleteHandover(ctx context.Context, q DBTX, id int64, fromStatus string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM handovers WHERE id = ? AND status = ?`, id, fromStatus)
	if err != nil {
		return fmt.Errorf("deleting handover: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting handover: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: handover %d changed concurrently", model.ErrInvalidTransition, id)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
