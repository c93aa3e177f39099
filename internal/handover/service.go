// Package handover implements the handover lifecycle: lending product units
// to employees and booking them back, with every status change applied
// together with its stock change.
package handover

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/predaja/internal/lock"
	"github.com/erazemk/predaja/internal/model"
	"github.com/erazemk/predaja/internal/obs"
	"github.com/erazemk/predaja/internal/store"
)

// Service runs handover transitions.
type Service struct {
	DB      *sql.DB
	Locker  lock.Locker
	Metrics *obs.Metrics
	Now     func() time.Time
}

// New returns a Service. A nil locker falls back to an in-process one.
func New(db *sql.DB, locker lock.Locker, metrics *obs.Metrics) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Service{DB: db, Locker: locker, Metrics: metrics, Now: time.Now}
}

func (s *Service) now() time.Time {
	return s.Now().UTC()
}

// CreateDirect issues units straight to an employee, committing stock at once.
func (s *Service) CreateDirect(ctx context.Context, actor *model.User, d Draft) (*model.HandOver, error) {
	if !actor.Can(model.CapManageProducts) {
		return nil, s.fail(EventIssue, forbidden(EventIssue))
	}
	cmd, err := planIssue(d, actor.ID, s.now())
	if err != nil {
		return nil, s.fail(EventIssue, err)
	}
	return s.run(ctx, cmd.ProductID, EventIssue, func(tx *sql.Tx) (*Command, error) {
		if err := s.checkParties(ctx, tx, d); err != nil {
			return nil, err
		}
		return cmd, nil
	})
}

// CreateRequest records an employee's request. Stock is not touched until
// the request is approved.
func (s *Service) CreateRequest(ctx context.Context, actor *model.User, d Draft) (*model.HandOver, error) {
	if !actor.Can(model.CapRequestHandover) {
		return nil, s.fail(EventRequest, forbidden(EventRequest))
	}
	if d.EmployeeID == 0 {
		d.EmployeeID = actor.ID
	}
	if d.EmployeeID != actor.ID {
		return nil, s.fail(EventRequest, fmt.Errorf("%w: employees can only request handovers for themselves", model.ErrForbidden))
	}
	cmd, err := planRequest(d, actor.ID, s.now())
	if err != nil {
		return nil, s.fail(EventRequest, err)
	}
	return s.run(ctx, cmd.ProductID, EventRequest, func(tx *sql.Tx) (*Command, error) {
		if err := s.checkParties(ctx, tx, d); err != nil {
			return nil, err
		}
		return cmd, nil
	})
}

// Approve hands over a pending request, committing its stock.
func (s *Service) Approve(ctx context.Context, actor *model.User, id int64, notes string) (*model.HandOver, error) {
	return s.transition(ctx, actor, model.CapManageProducts, EventApprove, id, func(h *model.HandOver) (*Command, error) {
		return planApprove(h, actor.ID, notes, s.now())
	})
}

// Reject closes a pending request without moving stock.
func (s *Service) Reject(ctx context.Context, actor *model.User, id int64, reason string) (*model.HandOver, error) {
	return s.transition(ctx, actor, model.CapManageProducts, EventReject, id, func(h *model.HandOver) (*Command, error) {
		return planReject(h, actor.ID, reason, s.now())
	})
}

// Return books qty units back from the borrowing employee.
func (s *Service) Return(ctx context.Context, actor *model.User, id int64, qty int, notes string) (*model.HandOver, error) {
	return s.transition(ctx, actor, model.CapReturnHandover, EventReturn, id, func(h *model.HandOver) (*Command, error) {
		return planReturn(h, actor.ID, qty, notes, s.now())
	})
}

// MarkReturned closes a loan on the borrower's behalf.
func (s *Service) MarkReturned(ctx context.Context, actor *model.User, id int64, notes string) (*model.HandOver, error) {
	return s.transition(ctx, actor, model.CapManageProducts, EventMarkReturned, id, func(h *model.HandOver) (*Command, error) {
		return planMarkReturned(h, actor.ID, notes, s.now())
	})
}

// Delete removes a handover, restoring outstanding stock if the loan is out.
// Product sequence numbers are not affected.
func (s *Service) Delete(ctx context.Context, actor *model.User, id int64) (*model.HandOver, error) {
	return s.transition(ctx, actor, model.CapManageProducts, EventDelete, id, planDelete)
}

// Get returns a handover. Employees can only see their own.
func (s *Service) Get(ctx context.Context, actor *model.User, id int64) (*model.HandOver, error) {
	if !canView(actor) {
		return nil, fmt.Errorf("%w: cannot view handovers", model.ErrForbidden)
	}
	h, err := store.GetHandover(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: handover %d", model.ErrNotFound, id)
	}
	if !actor.Can(model.CapManageProducts) && h.EmployeeID != actor.ID {
		return nil, fmt.Errorf("%w: handover %d belongs to another employee", model.ErrForbidden, id)
	}
	return h, nil
}

// List returns a page of handovers. Employees only ever see their own.
func (s *Service) List(ctx context.Context, actor *model.User, f store.HandoverFilter, page, limit int) (*model.Page[model.HandOver], error) {
	if !canView(actor) {
		return nil, fmt.Errorf("%w: cannot view handovers", model.ErrForbidden)
	}
	if f.Status != "" && !model.ValidStatus(f.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrValidation, f.Status)
	}
	if !actor.Can(model.CapManageProducts) {
		f.EmployeeID = actor.ID
	}
	if f.Now.IsZero() {
		f.Now = s.now()
	}

	items, total, err := store.ListHandovers(ctx, s.DB, f, page, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.HandOver{}
	}
	page, limit = store.NormalizePage(page, limit)
	return &model.Page[model.HandOver]{Items: items, Page: page, Limit: limit, Total: total}, nil
}

// Stats returns handover counts. Employees get their own counts.
func (s *Service) Stats(ctx context.Context, actor *model.User) (model.HandoverStats, error) {
	if !canView(actor) {
		return model.HandoverStats{}, fmt.Errorf("%w: cannot view handovers", model.ErrForbidden)
	}
	var employeeID int64
	if !actor.Can(model.CapManageProducts) {
		employeeID = actor.ID
	}
	return store.HandoverStats(ctx, s.DB, employeeID, s.now())
}

func canView(actor *model.User) bool {
	return actor.Can(model.CapManageProducts) || actor.Can(model.CapRequestHandover)
}

func forbidden(ev Event) error {
	return fmt.Errorf("%w: not allowed to %s handovers", model.ErrForbidden, ev)
}

// checkParties makes sure the product exists and the borrower is an active
// employee.
func (s *Service) checkParties(ctx context.Context, q store.DBTX, d Draft) error {
	p, err := store.GetProduct(ctx, q, d.ProductID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: product %s", model.ErrNotFound, d.ProductID)
	}

	emp, err := store.GetUser(ctx, q, d.EmployeeID)
	if err != nil {
		return err
	}
	if emp == nil || emp.DeletedAt != nil {
		return fmt.Errorf("%w: employee %d", model.ErrNotFound, d.EmployeeID)
	}
	if !emp.Active || emp.Role != model.RoleEmployee {
		return fmt.Errorf("%w: user %d is not an active employee", model.ErrValidation, d.EmployeeID)
	}
	return nil
}

// transition runs an event on an existing record. The record is read once
// to find the product to lock, then re-read inside the transaction so the
// plan always sees the latest state.
func (s *Service) transition(ctx context.Context, actor *model.User, capability model.Capability, ev Event, id int64, plan func(*model.HandOver) (*Command, error)) (*model.HandOver, error) {
	if !actor.Can(capability) {
		return nil, s.fail(ev, forbidden(ev))
	}

	h, err := store.GetHandover(ctx, s.DB, id)
	if err != nil {
		return nil, s.fail(ev, err)
	}
	if h == nil {
		return nil, s.fail(ev, fmt.Errorf("%w: handover %d", model.ErrNotFound, id))
	}

	return s.run(ctx, h.ProductID, ev, func(tx *sql.Tx) (*Command, error) {
		current, err := store.GetHandover(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: handover %d", model.ErrNotFound, id)
		}
		return plan(current)
	})
}

// run holds the product lock, plans the command inside a transaction and
// applies it there. It returns the record as stored afterwards, or the
// removed record for deletions.
func (s *Service) run(ctx context.Context, productID string, ev Event, plan func(tx *sql.Tx) (*Command, error)) (*model.HandOver, error) {
	unlock, err := s.Locker.Lock(ctx, lock.ProductKey(productID))
	if err != nil {
		return nil, s.fail(ev, fmt.Errorf("locking product %s: %w", productID, err))
	}
	defer unlock()

	var (
		result *model.HandOver
		delta  int
	)
	err = store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		cmd, err := plan(tx)
		if err != nil {
			return err
		}
		result, err = s.apply(ctx, tx, cmd)
		delta = cmd.StockDelta
		return err
	})
	if err != nil {
		return nil, s.fail(ev, err)
	}

	s.Metrics.Transition(string(ev), model.ErrorKind(nil))
	s.Metrics.StockDelta(delta)
	return result, nil
}

// apply writes the record change and then the stock change.
func (s *Service) apply(ctx context.Context, tx *sql.Tx, cmd *Command) (*model.HandOver, error) {
	now := s.now()
	var id int64

	switch {
	case cmd.From == nil:
		newID, err := store.InsertHandover(ctx, tx, cmd.Next)
		if err != nil {
			return nil, err
		}
		id = newID
	case cmd.Next == nil:
		if err := store.DeleteHandover(ctx, tx, cmd.From.ID, cmd.From.Status); err != nil {
			return nil, err
		}
	default:
		if err := store.UpdateHandoverState(ctx, tx, cmd.Next, cmd.From.Status, cmd.From.ReturnedQuantity); err != nil {
			return nil, err
		}
		id = cmd.Next.ID
	}

	if err := store.ApplyStockDelta(ctx, tx, cmd.ProductID, cmd.StockDelta, now); err != nil {
		return nil, err
	}

	if cmd.Next == nil {
		return cmd.From, nil
	}
	return store.GetHandover(ctx, tx, id)
}

func (s *Service) fail(ev Event, err error) error {
	s.Metrics.Transition(string(ev), model.ErrorKind(err))
	return err
}
