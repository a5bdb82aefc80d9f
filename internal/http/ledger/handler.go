package ledger

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/http/auth"
	"github.com/tallyhq/tally/internal/http/respond"
	"github.com/tallyhq/tally/internal/ledger"
)

type Handler struct {
	svc *ledger.Service
}

func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.createAccount)
		r.Get("/", h.listAccounts)
		r.Get("/{id}", h.getAccount)
		r.Get("/{id}/balance", h.accountBalance)
		r.Patch("/{id}/active", h.setAccountActive)
	})

	r.Route("/entries", func(r chi.Router) {
		r.Post("/", h.postEntry)
		r.Get("/", h.listEntries)
		r.Get("/{id}", h.getEntry)
		r.Post("/{id}/void", h.voidEntry)
	})

	r.Get("/equation", h.checkEquation)
}

type createAccountRequest struct {
	Name     string             `json:"name"`
	Type     ledger.AccountType `json:"type"`
	Currency string             `json:"currency"`
	Code     string             `json:"code,omitempty"`
	ParentID *uuid.UUID         `json:"parent_id,omitempty"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	acc, err := h.svc.CreateAccount(r.Context(), ledger.CreateAccountParams{
		OwnerID:  owner,
		Name:     req.Name,
		Type:     req.Type,
		Currency: req.Currency,
		Code:     req.Code,
		ParentID: req.ParentID,
	})
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusCreated, toAccountResponse(acc))
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	accounts, err := h.svc.Accounts(r.Context(), owner)
	if err != nil {
		respond.Err(w, err)
		return
	}

	resp := make([]accountResponse, len(accounts))
	for i, acc := range accounts {
		resp[i] = toAccountResponse(acc)
	}

	respond.JSON(w, http.StatusOK, resp)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
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

	acc, err := h.svc.GetAccount(r.Context(), owner, id)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, toAccountResponse(acc))
}

func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
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

	asOf := asOfParam(r)

	balance, err := h.svc.AccountBalance(r.Context(), owner, id, asOf)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, balanceResponse{
		AccountID: id,
		AsOf:      asOf,
		Balance:   balance,
	})
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) setAccountActive(w http.ResponseWriter, r *http.Request) {
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

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.SetAccountActive(r.Context(), owner, id, req.Active); err != nil {
		respond.Err(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type lineRequest struct {
	AccountID uuid.UUID        `json:"account_id"`
	Direction ledger.Direction `json:"direction"`
	Amount    decimal.Decimal  `json:"amount"`
	Currency  string           `json:"currency,omitempty"`
	Rate      *decimal.Decimal `json:"rate,omitempty"`
	Tags      []string         `json:"tags,omitempty"`
}

type postEntryRequest struct {
	Date  time.Time     `json:"date"`
	Memo  string        `json:"memo"`
	Lines []lineRequest `json:"lines"`
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req postEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry := &ledger.Entry{
		OwnerID: owner,
		Date:    req.Date,
		Memo:    req.Memo,
		Source:  ledger.SourceManual,
		Lines:   make([]ledger.Line, len(req.Lines)),
	}
	for i, l := range req.Lines {
		entry.Lines[i] = ledger.Line{
			AccountID: l.AccountID,
			Direction: l.Direction,
			Amount:    l.Amount,
			Currency:  l.Currency,
			Rate:      l.Rate,
			Tags:      l.Tags,
		}
	}

	posted, err := h.svc.PostEntry(r.Context(), entry)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusCreated, toEntryResponse(posted))
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	filter := ledger.EntryFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		status := ledger.Status(s)
		filter.Status = &status
	}

	if s := r.URL.Query().Get("start_date"); s != "" {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			filter.StartDate = &t
		}
	}

	if s := r.URL.Query().Get("end_date"); s != "" {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			filter.EndDate = &t
		}
	}

	if s := r.URL.Query().Get("account_id"); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			filter.AccountID = &id
		}
	}

	entries, err := h.svc.List(r.Context(), owner, filter)
	if err != nil {
		respond.Err(w, err)
		return
	}

	resp := make([]entryResponse, len(entries))
	for i, e := range entries {
		resp[i] = toEntryResponse(e)
	}

	respond.JSON(w, http.StatusOK, resp)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
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

	entry, err := h.svc.Get(r.Context(), owner, id)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, toEntryResponse(entry))
}

type voidEntryRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) voidEntry(w http.ResponseWriter, r *http.Request) {
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

	var req voidEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reversal, err := h.svc.VoidEntry(r.Context(), owner, id, req.Reason)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusCreated, toEntryResponse(reversal))
}

func (h *Handler) checkEquation(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	asOf := asOfParam(r)

	holds, err := h.svc.CheckAccountingEquation(r.Context(), owner, asOf)
	if err != nil {
		respond.Err(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, equationResponse{AsOf: asOf, Holds: holds})
}

func asOfParam(r *http.Request) time.Time {
	if s := r.URL.Query().Get("as_of"); s != "" {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			return t
		}
	}

	return time.Now()
}
