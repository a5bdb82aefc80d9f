// Package transfer recognizes inter-account transfers in the bank feed and
// routes them through the owner's clearing account, so the accounting
// equation holds while funds are in transit.
package transfer

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/bankfeed"
)

// LegStatus is the pairing state of one transfer leg.
type LegStatus string

const (
	LegUnpaired LegStatus = "unpaired"
	LegPaired   LegStatus = "paired"
)

// Leg is one half of an inter-account transfer: the system-sourced journal
// entry posted against the clearing account for a single bank transaction.
type Leg struct {
	ID                uuid.UUID
	OwnerID           uuid.UUID
	BankTransactionID uuid.UUID
	EntryID           uuid.UUID
	AccountID         uuid.UUID
	Direction         bankfeed.Direction
	Amount            decimal.Decimal
	Date              time.Time
	Status            LegStatus
	PairID            *uuid.UUID
	FeeEntryID        *uuid.UUID

	CreatedAt time.Time
}

// Paired reports whether the leg has found its counterpart.
func (l *Leg) Paired() bool {
	return l.Status == LegPaired
}

// Overdue reports whether an unpaired leg has outlived the grace period as
// of now.
func (l *Leg) Overdue(now time.Time, grace time.Duration) bool {
	return l.Status == LegUnpaired && now.Sub(l.Date) > grace
}
