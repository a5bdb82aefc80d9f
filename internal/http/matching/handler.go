package matching

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tallyhq/tally/internal/http/auth"
	"github.com/tallyhq/tally/internal/http/respond"
	"github.com/tallyhq/tally/internal/matching"
)

type Handler struct {
	svc *matching.Service
}

func NewHandler(svc *matching.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/run", h.run)
	r.Post("/{id}/review", h.review)
	r.Post("/{id}/supersede", h.supersede)
	r.Get("/transactions/{txID}", h.history)
	r.Get("/transactions/{txID}/active", h.active)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	result, err := h.svc.RunMatching(r.Context(), owner)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, toRunResponse(result))
}

type reviewRequest struct {
	Decision matching.Decision `json:"decision"`
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := h.svc.Review(r.Context(), owner, id, req.Decision)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, toMatchResponse(m))
}

type supersedeRequest struct {
	EntryIDs []uuid.UUID `json:"entry_ids"`
}

func (h *Handler) supersede(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req supersedeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	next, err := h.svc.Supersede(r.Context(), owner, id, req.EntryIDs)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusCreated, toMatchResponse(next))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "txID"))
	if err != nil {
		http.Error(w, "invalid transaction id", http.StatusBadRequest)
		return
	}

	versions, err := h.svc.History(r.Context(), owner, txID)
	if err != nil {
		respond.Err(w, err)
		return
	}

	resp := make([]matchResponse, len(versions))
	for i, m := range versions {
		resp[i] = toMatchResponse(m)
	}

	respond.JSON(w, http.StatusOK, resp)
}

func (h *Handler) active(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "txID"))
	if err != nil {
		http.Error(w, "invalid transaction id", http.StatusBadRequest)
		return
	}

	m, err := h.svc.Active(r.Context(), owner, txID)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, toMatchResponse(m))
}
