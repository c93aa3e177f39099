package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/predaja/internal/model"
)

var validate = validator.New()

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into target and validates its
// struct tags.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return err
	}
	return validate.Struct(target)
}

// badRequest reports a decode or validation failure. Validation failures
// list the offending fields and the rule each one broke.
func badRequest(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		jsonResponse(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
		return
	}
	jsonError(w, http.StatusBadRequest, "invalid request body")
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientStock),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Domain errors carry their message;
// anything else is logged and hidden behind a generic one.
func writeError(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("failed to "+action, "error", err, "request_id", RequestID(r.Context()))
		jsonError(w, status, "internal error")
		return
	}
	slog.Warn("refused to "+action, "reason", model.ErrorKind(err), "error", err, "request_id", RequestID(r.Context()))
	jsonResponse(w, status, map[string]string{"error": err.Error(), "kind": model.ErrorKind(err)})
}

// pagination reads page and limit query parameters.
func pagination(r *http.Request, defaultLimit int) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if page < 1 {
		page = 1
	}
	return page, limit
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty,
// including chunked requests that carry no data.
func decodeOptionalJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return validate.Struct(target)
}
