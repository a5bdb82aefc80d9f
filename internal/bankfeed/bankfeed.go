// Package bankfeed holds the bank transactions produced by the statement
// extraction pipeline. The records are read-only to the rest of the system;
// reconciliation only ever moves their status and attaches match outcomes.
package bankfeed

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction of money movement relative to the statement's account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Confidence is the extraction pipeline's own confidence tier for the record.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Status tracks what reconciliation has decided about the transaction.
// The pending -> matched / pending -> transfer transitions are
// compare-and-swap updates and serve as the commit point for match decisions.
type Status string

const (
	StatusPending  Status = "pending"
	StatusMatched  Status = "matched"
	StatusTransfer Status = "transfer"
)

// Transaction is one statement line. Amount is the absolute value; Direction
// carries the sign.
type Transaction struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	AccountID   uuid.UUID // ledger account the statement belongs to
	Date        time.Time
	Amount      decimal.Decimal
	Direction   Direction
	Description string
	Reference   string
	Confidence  Confidence
	Status      Status

	CreatedAt time.Time
}
