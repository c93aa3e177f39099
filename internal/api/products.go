package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/predaja/internal/model"
	"github.com/erazemk/predaja/internal/store"
)

type productRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	SKU         string `json:"sku" validate:"max=100"`
	Category    string `json:"category" validate:"max=100"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	MinStock    int    `json:"min_stock" validate:"gte=0"`
	MaxStock    int    `json:"max_stock" validate:"gte=0"`
}

type adjustStockRequest struct {
	Delta int    `json:"delta" validate:"required"`
	Notes string `json:"notes" validate:"max=1000"`
}

// resolveProduct finds the product named by the {id} path value, which is
// either its sequence number or its handle.
func (s *Server) resolveProduct(r *http.Request) (*model.Product, error) {
	ref := r.PathValue("id")
	actor := CurrentUser(r.Context())
	if seq, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.Inventory.GetBySeq(r.Context(), actor, seq)
	}
	return s.Inventory.Get(r.Context(), actor, ref)
}

// ListProducts handles GET /api/products.
func (s *Server) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r, s.PageLimit)
	f := store.ProductFilter{
		Search:   r.URL.Query().Get("search"),
		LowStock: r.URL.Query().Get("low_stock") == "true",
	}

	products, err := s.Inventory.List(r.Context(), CurrentUser(r.Context()), f, page, limit)
	if err != nil {
		writeError(w, r, "list products", err)
		return
	}
	jsonResponse(w, http.StatusOK, products)
}

// CreateProduct handles POST /api/products.
func (s *Server) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	actor := CurrentUser(r.Context())
	p, err := s.Inventory.Create(r.Context(), actor, store.NewProduct{
		Name:        req.Name,
		Description: req.Description,
		SKU:         req.SKU,
		Category:    req.Category,
		Quantity:    req.Quantity,
		MinStock:    req.MinStock,
		MaxStock:    req.MaxStock,
	})
	if err != nil {
		writeError(w, r, "create product", err)
		return
	}

	slog.Info("product created", "user", actor.Email, "product", p.Seq, "name", p.Name, "quantity", p.Stock.Quantity)
	jsonResponse(w, http.StatusCreated, p)
}

// GetProduct handles GET /api/products/{id}.
func (s *Server) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.resolveProduct(r)
	if err != nil {
		writeError(w, r, "get product", err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// UpdateProduct handles PUT /api/products/{id}. Quantity in the body is
// ignored; stock changes go through the stock endpoint.
func (s *Server) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	current, err := s.resolveProduct(r)
	if err != nil {
		writeError(w, r, "update product", err)
		return
	}

	actor := CurrentUser(r.Context())
	p, err := s.Inventory.Update(r.Context(), actor, current.ID, store.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		SKU:         req.SKU,
		Category:    req.Category,
		MinStock:    req.MinStock,
		MaxStock:    req.MaxStock,
	})
	if err != nil {
		writeError(w, r, "update product", err)
		return
	}

	slog.Info("product updated", "user", actor.Email, "product", p.Seq, "name", p.Name)
	jsonResponse(w, http.StatusOK, p)
}

// AdjustStock handles POST /api/products/{id}/stock.
func (s *Server) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	current, err := s.resolveProduct(r)
	if err != nil {
		writeError(w, r, "adjust stock", err)
		return
	}

	actor := CurrentUser(r.Context())
	p, err := s.Inventory.Adjust(r.Context(), actor, current.ID, req.Delta)
	if err != nil {
		writeError(w, r, "adjust stock", err)
		return
	}

	slog.Info("stock adjusted", "user", actor.Email, "product", p.Seq,
		"delta", req.Delta, "quantity", p.Stock.Quantity, "notes", req.Notes)
	jsonResponse(w, http.StatusOK, p)
}

// DeleteProduct handles DELETE /api/products/{id}.
func (s *Server) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	current, err := s.resolveProduct(r)
	if err != nil {
		writeError(w, r, "delete product", err)
		return
	}

	actor := CurrentUser(r.Context())
	p, err := s.Inventory.Delete(r.Context(), actor, current.ID)
	if err != nil {
		writeError(w, r, "delete product", err)
		return
	}

	slog.Info("product deleted", "user", actor.Email, "product", p.Seq, "name", p.Name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

// CompactProducts handles POST /api/products/compact.
func (s *Server) CompactProducts(w http.ResponseWriter, r *http.Request) {
	actor := CurrentUser(r.Context())
	n, err := s.Inventory.Compact(r.Context(), actor)
	if err != nil {
		writeError(w, r, "renumber products", err)
		return
	}

	slog.Info("products renumbered", "user", actor.Email, "count", n)
	jsonResponse(w, http.StatusOK, map[string]int{"renumbered": n})
}
