package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/predaja/internal/handover"
	"github.com/erazemk/predaja/internal/model"
	"github.com/erazemk/predaja/internal/store"
)

type handoverRequest struct {
	ProductID          string     `json:"product_id" validate:"required"`
	EmployeeID         int64      `json:"employee_id" validate:"gte=0"`
	Quantity           int        `json:"quantity" validate:"required,gt=0"`
	Purpose            string     `json:"purpose" validate:"max=500"`
	Notes              string     `json:"notes" validate:"max=1000"`
	ExpectedReturnDate *time.Time `json:"expected_return_date"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type returnRequest struct {
	Quantity int    `json:"quantity" validate:"required,gt=0"`
	Notes    string `json:"notes" validate:"max=1000"`
}

// draft turns a request into a handover draft, resolving a numeric product
// reference to its handle. The actor must hold c before anything is looked up.
func (s *Server) draft(r *http.Request, req handoverRequest, c model.Capability) (handover.Draft, error) {
	if !CurrentUser(r.Context()).Can(c) {
		return handover.Draft{}, fmt.Errorf("%w: missing %s", model.ErrForbidden, c)
	}
	productID := req.ProductID
	if seq, err := strconv.ParseInt(productID, 10, 64); err == nil {
		p, err := s.Inventory.GetBySeq(r.Context(), CurrentUser(r.Context()), seq)
		if err != nil {
			return handover.Draft{}, err
		}
		productID = p.ID
	}
	return handover.Draft{
		ProductID:          productID,
		EmployeeID:         req.EmployeeID,
		Quantity:           req.Quantity,
		Purpose:            req.Purpose,
		Notes:              req.Notes,
		ExpectedReturnDate: req.ExpectedReturnDate,
	}, nil
}

func logHandover(msg string, actor *model.User, h *model.HandOver) {
	slog.Info(msg, "user", actor.Email, "handover", h.ID, "product", h.ProductSeq,
		"employee", h.EmployeeEmail, "quantity", h.Quantity,
		"returned", h.ReturnedQuantity, "status", h.Status)
}

// CreateDirectHandover handles POST /api/handovers.
func (s *Server) CreateDirectHandover(w http.ResponseWriter, r *http.Request) {
	var req handoverRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	d, err := s.draft(r, req, model.CapManageProducts)
	if err != nil {
		writeError(w, r, "issue handover", err)
		return
	}

	actor := CurrentUser(r.Context())
	h, err := s.Handovers.CreateDirect(r.Context(), actor, d)
	if err != nil {
		writeError(w, r, "issue handover", err)
		return
	}

	logHandover("handover issued", actor, h)
	jsonResponse(w, http.StatusCreated, h)
}

// CreateHandoverRequest handles POST /api/handovers/requests.
func (s *Server) CreateHandoverRequest(w http.ResponseWriter, r *http.Request) {
	var req handoverRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	d, err := s.draft(r, req, model.CapRequestHandover)
	if err != nil {
		writeError(w, r, "request handover", err)
		return
	}

	actor := CurrentUser(r.Context())
	h, err := s.Handovers.CreateRequest(r.Context(), actor, d)
	if err != nil {
		writeError(w, r, "request handover", err)
		return
	}

	logHandover("handover requested", actor, h)
	jsonResponse(w, http.StatusCreated, h)
}

// ApproveHandover handles POST /api/handovers/{id}/approve.
func (s *Server) ApproveHandover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid handover id")
		return
	}
	var req notesRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	actor := CurrentUser(r.Context())
	h, err := s.Handovers.Approve(r.Context(), actor, id, req.Notes)
	if err != nil {
		writeError(w, r, "approve handover", err)
		return
	}

	logHandover("handover approved", actor, h)
	jsonResponse(w, http.StatusOK, h)
}

// RejectHandover handles POST /api/handovers/{id}/reject.
func (s *Server) RejectHandover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid handover id")
		return
	}
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	actor := CurrentUser(r.Context())
	h, err := s.Handovers.Reject(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, r, "reject handover", err)
		return
	}

	logHandover("handover rejected", actor, h)
	jsonResponse(w, http.StatusOK, h)
}

// ReturnHandover handles POST /api/handovers/{id}/return.
func (s *Server) ReturnHandover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid handover id")
		return
	}
	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	actor := CurrentUser(r.Context())
	h, err := s.Handovers.Return(r.Context(), actor, id, req.Quantity, req.Notes)
	if err != nil {
		writeError(w, r, "return handover", err)
		return
	}

	logHandover("handover returned", actor, h)
	jsonResponse(w, http.StatusOK, h)
}

// MarkHandoverReturned handles POST /api/handovers/{id}/mark-returned.
func (s *Server) MarkHandoverReturned(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid handover id")
		return
	}
	var req notesRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	actor := CurrentUser(r.Context())
	h, err := s.Handovers.MarkReturned(r.Context(), actor, id, req.Notes)
	if err != nil {
		writeError(w, r, "mark handover returned", err)
		return
	}

	logHandover("handover marked returned", actor, h)
	jsonResponse(w, http.StatusOK, h)
}

// DeleteHandover handles DELETE /api/handovers/{id}.
func (s *Server) DeleteHandover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid handover id")
		return
	}

	actor := CurrentUser(r.Context())
	h, err := s.Handovers.Delete(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, "delete handover", err)
		return
	}

	logHandover("handover deleted", actor, h)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "handover deleted"})
}

// GetHandover handles GET /api/handovers/{id}.
func (s *Server) GetHandover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid handover id")
		return
	}

	h, err := s.Handovers.Get(r.Context(), CurrentUser(r.Context()), id)
	if err != nil {
		writeError(w, r, "get handover", err)
		return
	}
	jsonResponse(w, http.StatusOK, h)
}

// ListHandovers handles GET /api/handovers.
func (s *Server) ListHandovers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.HandoverFilter{
		Status:    q.Get("status"),
		ProductID: q.Get("product_id"),
		Overdue:   q.Get("overdue") == "true",
	}
	if v := q.Get("employee_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid employee_id")
			return
		}
		f.EmployeeID = id
	}

	page, limit := pagination(r, s.PageLimit)
	result, err := s.Handovers.List(r.Context(), CurrentUser(r.Context()), f, page, limit)
	if err != nil {
		writeError(w, r, "list handovers", err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// HandoverStats handles GET /api/handovers/stats.
func (s *Server) HandoverStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Handovers.Stats(r.Context(), CurrentUser(r.Context()))
	if err != nil {
		writeError(w, r, "count handovers", err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}
