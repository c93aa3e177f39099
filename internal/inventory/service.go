// Package inventory manages products and their on-hand stock outside the
// handover flow.
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/predaja/internal/lock"
	"github.com/erazemk/predaja/internal/model"
	"github.com/erazemk/predaja/internal/obs"
	"github.com/erazemk/predaja/internal/store"
)

// Service runs product operations.
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

// Create adds a product with the next sequence number.
func (s *Service) Create(ctx context.Context, actor *model.User, np store.NewProduct) (*model.Product, error) {
	if !actor.Can(model.CapManageProducts) {
		return nil, fmt.Errorf("%w: cannot manage products", model.ErrForbidden)
	}
	np.Name = strings.TrimSpace(np.Name)
	if np.Name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrValidation)
	}
	np.CreatedBy = &actor.ID

	unlock, err := s.Locker.Lock(ctx, lock.CollectionKey)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	defer unlock()

	var p *model.Product
	err = store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		p, err = store.CreateProduct(ctx, tx, np, s.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a product by its handle.
func (s *Service) Get(ctx context.Context, actor *model.User, id string) (*model.Product, error) {
	if !actor.Can(model.CapViewProducts) {
		return nil, fmt.Errorf("%w: cannot view products", model.ErrForbidden)
	}
	p, err := store.GetProduct(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: product %s", model.ErrNotFound, id)
	}
	return p, nil
}

// GetBySeq returns a product by its sequence number.
func (s *Service) GetBySeq(ctx context.Context, actor *model.User, seq int64) (*model.Product, error) {
	if !actor.Can(model.CapViewProducts) {
		return nil, fmt.Errorf("%w: cannot view products", model.ErrForbidden)
	}
	p, err := store.GetProductBySeq(ctx, s.DB, seq)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: product #%d", model.ErrNotFound, seq)
	}
	return p, nil
}

// List returns a page of products in sequence order.
func (s *Service) List(ctx context.Context, actor *model.User, f store.ProductFilter, page, limit int) (*model.Page[model.Product], error) {
	if !actor.Can(model.CapViewProducts) {
		return nil, fmt.Errorf("%w: cannot view products", model.ErrForbidden)
	}
	items, total, err := store.ListProducts(ctx, s.DB, f, page, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Product{}
	}
	page, limit = store.NormalizePage(page, limit)
	return &model.Page[model.Product]{Items: items, Page: page, Limit: limit, Total: total}, nil
}

// Update changes product metadata. Stock is changed through Adjust.
func (s *Service) Update(ctx context.Context, actor *model.User, id string, upd store.ProductUpdate) (*model.Product, error) {
	if !actor.Can(model.CapManageProducts) {
		return nil, fmt.Errorf("%w: cannot manage products", model.ErrForbidden)
	}
	upd.Name = strings.TrimSpace(upd.Name)
	if upd.Name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrValidation)
	}

	var p *model.Product
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := store.UpdateProduct(ctx, tx, id, upd, s.Now()); err != nil {
			return err
		}
		var err error
		p, err = store.GetProduct(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Adjust applies a direct stock correction and returns the updated product.
func (s *Service) Adjust(ctx context.Context, actor *model.User, id string, delta int) (*model.Product, error) {
	if !actor.Can(model.CapManageProducts) {
		return nil, fmt.Errorf("%w: cannot manage products", model.ErrForbidden)
	}

	unlock, err := s.Locker.Lock(ctx, lock.ProductKey(id))
	if err != nil {
		return nil, fmt.Errorf("locking product %s: %w", id, err)
	}
	defer unlock()

	var p *model.Product
	err = store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := store.AdjustStock(ctx, tx, id, delta, s.Now()); err != nil {
			return err
		}
		var err error
		p, err = store.GetProduct(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.StockDelta(delta)
	return p, nil
}

// Delete removes a product and renumbers the rest in the same transaction.
func (s *Service) Delete(ctx context.Context, actor *model.User, id string) (*model.Product, error) {
	if !actor.Can(model.CapDeleteProducts) {
		return nil, fmt.Errorf("%w: cannot delete products", model.ErrForbidden)
	}

	unlockAll, err := s.Locker.Lock(ctx, lock.CollectionKey)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	defer unlockAll()

	unlock, err := s.Locker.Lock(ctx, lock.ProductKey(id))
	if err != nil {
		return nil, fmt.Errorf("locking product %s: %w", id, err)
	}
	defer unlock()

	var p *model.Product
	err = store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		p, err = store.GetProduct(ctx, tx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: product %s", model.ErrNotFound, id)
		}
		if err := store.DeleteProduct(ctx, tx, id); err != nil {
			return err
		}
		_, err = store.CompactProducts(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Compact renumbers all products to 1..N on demand.
func (s *Service) Compact(ctx context.Context, actor *model.User) (int, error) {
	if !actor.Can(model.CapDeleteProducts) {
		return 0, fmt.Errorf("%w: cannot renumber products", model.ErrForbidden)
	}

	unlock, err := s.Locker.Lock(ctx, lock.CollectionKey)
	if err != nil {
		return 0, fmt.Errorf("locking products: %w", err)
	}
	defer unlock()

	var n int
	err = store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		n, err = store.CompactProducts(ctx, tx)
		return err
	})
	return n, err
}
