package statement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/bankfeed"
)

type transactionResponse struct {
	ID          uuid.UUID           `json:"id"`
	AccountID   uuid.UUID           `json:"account_id"`
	Date        time.Time           `json:"date"`
	Amount      decimal.Decimal     `json:"amount"`
	Direction   bankfeed.Direction  `json:"direction"`
	Description string              `json:"description"`
	Reference   string              `json:"reference,omitempty"`
	Confidence  bankfeed.Confidence `json:"confidence"`
	Status      bankfeed.Status     `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
}

func toResponse(tx *bankfeed.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		AccountID:   tx.AccountID,
		Date:        tx.Date,
		Amount:      tx.Amount,
		Direction:   tx.Direction,
		Description: tx.Description,
		Reference:   tx.Reference,
		Confidence:  tx.Confidence,
		Status:      tx.Status,
		CreatedAt:   tx.CreatedAt,
	}
}
