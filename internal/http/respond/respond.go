// Package respond maps domain results and errors onto HTTP responses, so
// every handler speaks the same dialect.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tallyhq/tally/internal/ledger"
)

type errorResponse struct {
	Error string `json:"error"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Err translates a domain error into a status code: validation failures are
// the client's fault, conflicts mean the state moved underneath them, and an
// integrity error is always ours.
func Err(w http.ResponseWriter, err error) {
	var (
		verr *ledger.ValidationError
		cerr *ledger.ConflictError
		ierr *ledger.IntegrityError
	)

	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		JSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.As(err, &cerr):
		JSON(w, http.StatusConflict, errorResponse{Error: cerr.Error()})
	case errors.As(err, &ierr):
		slog.Error("ledger integrity violation", "owner", ierr.OwnerID, "detail", ierr.Detail)
		JSON(w, http.StatusInternalServerError, errorResponse{Error: "ledger integrity violation"})
	default:
		slog.Error("request failed", "error", err)
		JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
