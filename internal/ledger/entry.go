package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/money"
)

// Source records where an entry came from.
type Source string

const (
	SourceManual Source = "manual"
	SourceBank   Source = "bank"
	SourceSystem Source = "system"
)

// Valid reports whether s is a known source kind.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceBank, SourceSystem:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a journal entry.
//
// draft -> posted -> {reconciled, void}. Void is terminal for the original
// entry; voiding always posts exactly one reversal entry as a side effect.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPosted     Status = "posted"
	StatusReconciled Status = "reconciled"
	StatusVoid       Status = "void"
)

// Direction is the side of a journal line.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Debit {
		return Credit
	}

	return Debit
}

// Line is one leg of a journal entry. Amount is always strictly positive;
// the direction plus the account type determines the balance-sheet effect.
type Line struct {
	ID        uuid.UUID
	EntryID   uuid.UUID
	AccountID uuid.UUID
	Direction Direction
	Amount    decimal.Decimal
	Currency  string
	Rate      *decimal.Decimal
	Tags      []string
}

// Entry is a dated, memoed transaction header with at least two lines.
// Once posted, the entry and its lines are immutable apart from status.
type Entry struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Date       time.Time
	Memo       string
	Source     Source
	SourceRef  string
	Status     Status
	VoidReason string
	ReversalID *uuid.UUID
	Lines      []Line

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// DebitTotal sums the debit-line amounts.
func (e *Entry) DebitTotal() decimal.Decimal {
	return e.total(Debit)
}

// CreditTotal sums the credit-line amounts.
func (e *Entry) CreditTotal() decimal.Decimal {
	return e.total(Credit)
}

func (e *Entry) total(d Direction) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range e.Lines {
		if l.Direction == d {
			sum = sum.Add(l.Amount)
		}
	}

	return sum
}

// Balanced reports whether debits equal credits within the balance tolerance.
func (e *Entry) Balanced() bool {
	return money.WithinTolerance(e.DebitTotal(), e.CreditTotal(), money.BalanceTolerance)
}

// HasTag reports whether any line carries the given tag.
func (e *Entry) HasTag(tag string) bool {
	for _, l := range e.Lines {
		for _, t := range l.Tags {
			if t == tag {
				return true
			}
		}
	}

	return false
}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	Status    *Status
	StartDate *time.Time
	EndDate   *time.Time
	AccountID *uuid.UUID
	Source    *Source
}
