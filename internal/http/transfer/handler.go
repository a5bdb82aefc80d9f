package transfer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/http/auth"
	"github.com/tallyhq/tally/internal/http/respond"
	"github.com/tallyhq/tally/internal/transfer"
)

type Handler struct {
	svc *transfer.Service
}

func NewHandler(svc *transfer.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/reconcile", h.reconcile)
	r.Post("/confirm", h.confirm)
	r.Get("/pending", h.pending)
}

type legResponse struct {
	ID                uuid.UUID          `json:"id"`
	BankTransactionID uuid.UUID          `json:"bank_transaction_id"`
	EntryID           uuid.UUID          `json:"entry_id"`
	AccountID         uuid.UUID          `json:"account_id"`
	Direction         bankfeed.Direction `json:"direction"`
	Amount            decimal.Decimal    `json:"amount"`
	Date              time.Time          `json:"date"`
	Status            transfer.LegStatus `json:"status"`
	PairID            *uuid.UUID         `json:"pair_id,omitempty"`
	FeeEntryID        *uuid.UUID         `json:"fee_entry_id,omitempty"`
}

func toLegResponse(l *transfer.Leg) legResponse {
	return legResponse{
		ID:                l.ID,
		BankTransactionID: l.BankTransactionID,
		EntryID:           l.EntryID,
		AccountID:         l.AccountID,
		Direction:         l.Direction,
		Amount:            l.Amount,
		Date:              l.Date,
		Status:            l.Status,
		PairID:            l.PairID,
		FeeEntryID:        l.FeeEntryID,
	}
}

type reviewItemResponse struct {
	Reason            transfer.ReviewReason `json:"reason"`
	BankTransactionID uuid.UUID             `json:"bank_transaction_id"`
	LegID             uuid.UUID             `json:"leg_id,omitempty"`
	Score             float64               `json:"score,omitempty"`
}

type reconcileResponse struct {
	Created       []legResponse        `json:"created"`
	Paired        []legResponse        `json:"paired"`
	PendingReview []reviewItemResponse `json:"pending_review"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	result, err := h.svc.ReconcileTransfers(r.Context(), owner)
	if err != nil {
		respond.Err(w, err)
		return
	}

	resp := reconcileResponse{
		Created:       make([]legResponse, len(result.Created)),
		Paired:        make([]legResponse, len(result.Paired)),
		PendingReview: make([]reviewItemResponse, len(result.PendingReview)),
	}

	for i, leg := range result.Created {
		resp.Created[i] = toLegResponse(leg)
	}

	for i, leg := range result.Paired {
		resp.Paired[i] = toLegResponse(leg)
	}

	for i, item := range result.PendingReview {
		resp.PendingReview[i] = reviewItemResponse{
			Reason:            item.Reason,
			BankTransactionID: item.BankTransactionID,
			LegID:             item.LegID,
			Score:             item.Score,
		}
	}

	respond.JSON(w, http.StatusOK, resp)
}

type confirmRequest struct {
	BankTransactionID uuid.UUID `json:"bank_transaction_id"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	leg, err := h.svc.Confirm(r.Context(), owner, req.BankTransactionID)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusCreated, toLegResponse(leg))
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	legs, err := h.svc.PendingLegs(r.Context(), owner)
	if err != nil {
		respond.Err(w, err)
		return
	}

	resp := make([]legResponse, len(legs))
	for i, leg := range legs {
		resp[i] = toLegResponse(leg)
	}

	respond.JSON(w, http.StatusOK, resp)
}
