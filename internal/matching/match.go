// Package matching pairs bank transactions with journal entries and scores
// each pairing. Match records are append-only: corrections create a new
// version and point the old one at its successor, so the full decision
// history survives for audit.
package matching

import (
	"time"

	"github.com/google/uuid"
)

// Status is the review state of one match version.
//
// pending_review -> {accepted, rejected, superseded}; auto_accepted,
// accepted and rejected are terminal for that version. A correction to a
// terminal match never edits it: it creates the next version and marks this
// one superseded.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusAutoAccepted  Status = "auto_accepted"
	StatusAccepted      Status = "accepted"
	StatusRejected      Status = "rejected"
	StatusSuperseded    Status = "superseded"
)

// Decision is a manual review outcome.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Breakdown records the per-dimension sub-scores behind a total score.
// Dimensions that could not be computed (missing description, missing date)
// are listed in Skipped and contribute nothing.
type Breakdown struct {
	Amount      float64  `json:"amount"`
	Date        float64  `json:"date"`
	Description float64  `json:"description"`
	Validity    float64  `json:"validity"`
	History     float64  `json:"history"`
	Skipped     []string `json:"skipped,omitempty"`
}

// Match pairs one bank transaction with one or more journal entries.
type Match struct {
	ID                uuid.UUID
	OwnerID           uuid.UUID
	BankTransactionID uuid.UUID
	EntryIDs          []uuid.UUID
	Score             float64
	Breakdown         Breakdown
	Status            Status
	Version           int
	SupersededBy      *uuid.UUID
	PatternKey        string

	CreatedAt time.Time
}

// Active reports whether this version is the one currently standing for its
// bank transaction: not rejected and not superseded.
func (m *Match) Active() bool {
	return m.SupersededBy == nil && m.Status != StatusRejected && m.Status != StatusSuperseded
}
