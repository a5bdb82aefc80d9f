package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/ledger"
)

type accountResponse struct {
	ID        uuid.UUID          `json:"id"`
	Name      string             `json:"name"`
	Type      ledger.AccountType `json:"type"`
	Currency  string             `json:"currency"`
	Code      string             `json:"code,omitempty"`
	ParentID  *uuid.UUID         `json:"parent_id,omitempty"`
	System    bool               `json:"system"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"created_at"`
}

func toAccountResponse(acc *ledger.Account) accountResponse {
	return accountResponse{
		ID:        acc.ID,
		Name:      acc.Name,
		Type:      acc.Type,
		Currency:  acc.Currency,
		Code:      acc.Code,
		ParentID:  acc.ParentID,
		System:    acc.System,
		Active:    acc.Active,
		CreatedAt: acc.CreatedAt,
	}
}

type lineResponse struct {
	ID        uuid.UUID        `json:"id"`
	AccountID uuid.UUID        `json:"account_id"`
	Direction ledger.Direction `json:"direction"`
	Amount    decimal.Decimal  `json:"amount"`
	Currency  string           `json:"currency"`
	Rate      *decimal.Decimal `json:"rate,omitempty"`
	Tags      []string         `json:"tags,omitempty"`
}

type entryResponse struct {
	ID         uuid.UUID      `json:"id"`
	Date       time.Time      `json:"date"`
	Memo       string         `json:"memo"`
	Source     ledger.Source  `json:"source"`
	SourceRef  string         `json:"source_ref,omitempty"`
	Status     ledger.Status  `json:"status"`
	VoidReason string         `json:"void_reason,omitempty"`
	ReversalID *uuid.UUID     `json:"reversal_id,omitempty"`
	Lines      []lineResponse `json:"lines"`
	CreatedAt  time.Time      `json:"created_at"`
}

func toEntryResponse(e *ledger.Entry) entryResponse {
	resp := entryResponse{
		ID:         e.ID,
		Date:       e.Date,
		Memo:       e.Memo,
		Source:     e.Source,
		SourceRef:  e.SourceRef,
		Status:     e.Status,
		VoidReason: e.VoidReason,
		ReversalID: e.ReversalID,
		Lines:      make([]lineResponse, len(e.Lines)),
		CreatedAt:  e.CreatedAt,
	}
	for i, l := range e.Lines {
		resp.Lines[i] = lineResponse{
			ID:        l.ID,
			AccountID: l.AccountID,
			Direction: l.Direction,
			Amount:    l.Amount,
			Currency:  l.Currency,
			Rate:      l.Rate,
			Tags:      l.Tags,
		}
	}

	return resp
}

type balanceResponse struct {
	AccountID uuid.UUID       `json:"account_id"`
	AsOf      time.Time       `json:"as_of"`
	Balance   decimal.Decimal `json:"balance"`
}

type equationResponse struct {
	AsOf  time.Time `json:"as_of"`
	Holds bool      `json:"holds"`
}
