// Package statement is the bank-statement intake endpoint: it accepts a CSV
// upload, hands the rows to the bank feed, and reports what was imported.
package statement

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/http/auth"
	"github.com/tallyhq/tally/internal/http/respond"
)

// maxUploadBytes caps statement uploads; statements are small text files.
const maxUploadBytes = 10 << 20

type Handler struct {
	svc *bankfeed.Service
}

func NewHandler(svc *bankfeed.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.upload)
	r.Get("/pending", h.listPending)
}

type importResponse struct {
	Imported int                   `json:"imported"`
	Skipped  int                   `json:"skipped"`
	Records  []transactionResponse `json:"records"`
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "failed to parse form: "+err.Error(), http.StatusBadRequest)
		return
	}

	accountID, err := uuid.Parse(r.FormValue("account_id"))
	if err != nil {
		http.Error(w, "account_id field is required", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	params, err := bankfeed.ParseStatement(file)
	if err != nil {
		respond.Err(w, err)
		return
	}

	result, err := h.svc.Import(r.Context(), owner, accountID, params)
	if err != nil {
		respond.Err(w, err)
		return
	}

	resp := importResponse{
		Imported: len(result.Imported),
		Skipped:  result.Skipped,
		Records:  make([]transactionResponse, len(result.Imported)),
	}
	for i, tx := range result.Imported {
		resp.Records[i] = toResponse(tx)
	}

	respond.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	txs, err := h.svc.ListPending(r.Context(), owner)
	if err != nil {
		respond.Err(w, err)
		return
	}

	resp := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		resp[i] = toResponse(tx)
	}

	respond.JSON(w, http.StatusOK, resp)
}
