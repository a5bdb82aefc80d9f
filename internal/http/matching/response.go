package matching

import (
	"time"

	"github.com/google/uuid"

	"github.com/tallyhq/tally/internal/matching"
)

type matchResponse struct {
	ID                uuid.UUID          `json:"id"`
	BankTransactionID uuid.UUID          `json:"bank_transaction_id"`
	EntryIDs          []uuid.UUID        `json:"entry_ids"`
	Score             float64            `json:"score"`
	Breakdown         matching.Breakdown `json:"breakdown"`
	Status            matching.Status    `json:"status"`
	Version           int                `json:"version"`
	SupersededBy      *uuid.UUID         `json:"superseded_by,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

func toMatchResponse(m *matching.Match) matchResponse {
	return matchResponse{
		ID:                m.ID,
		BankTransactionID: m.BankTransactionID,
		EntryIDs:          m.EntryIDs,
		Score:             m.Score,
		Breakdown:         m.Breakdown,
		Status:            m.Status,
		Version:           m.Version,
		SupersededBy:      m.SupersededBy,
		CreatedAt:         m.CreatedAt,
	}
}

type unmatchedResponse struct {
	BankTransactionID uuid.UUID `json:"bank_transaction_id"`
	BestScore         float64   `json:"best_score"`
}

type runResponse struct {
	AutoAccepted  []matchResponse     `json:"auto_accepted"`
	PendingReview []matchResponse     `json:"pending_review"`
	Unmatched     []unmatchedResponse `json:"unmatched"`
}

func toRunResponse(result *matching.RunResult) runResponse {
	resp := runResponse{
		AutoAccepted:  make([]matchResponse, len(result.AutoAccepted)),
		PendingReview: make([]matchResponse, len(result.PendingReview)),
		Unmatched:     make([]unmatchedResponse, len(result.Unmatched)),
	}

	for i, m := range result.AutoAccepted {
		resp.AutoAccepted[i] = toMatchResponse(m)
	}

	for i, m := range result.PendingReview {
		resp.PendingReview[i] = toMatchResponse(m)
	}

	for i, u := range result.Unmatched {
		resp.Unmatched[i] = unmatchedResponse{
			BankTransactionID: u.BankTransactionID,
			BestScore:         u.BestScore,
		}
	}

	return resp
}
