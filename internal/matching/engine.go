package matching

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/money"
)

// Dimension scores for the fixed rungs of the amount and date rules.
const (
	scoreExact    = 100.0
	scoreNear     = 90.0
	scoreFeeSplit = 70.0
)

// Dimension names recorded in Breakdown.Skipped.
const (
	dimAmount      = "amount"
	dimDate        = "date"
	dimDescription = "description"
	dimHistory     = "history"
)

// History is the set of counterparty pattern keys with a previously accepted
// match. Prefetched by the service so scoring itself stays pure.
type History map[string]struct{}

func (h History) Has(key string) bool {
	_, ok := h[key]
	return ok
}

// Scored is one candidate group with its confidence score.
type Scored struct {
	EntryIDs  []uuid.UUID
	Score     float64
	Breakdown Breakdown
}

// entryAmount is the monetary size of an entry: the (balanced) debit total.
func entryAmount(e *ledger.Entry) decimal.Decimal {
	return e.DebitTotal()
}

func groupAmount(group []*ledger.Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range group {
		sum = sum.Add(entryAmount(e))
	}

	return sum
}

// daysApart counts whole calendar days between two dates, ignoring the time
// of day.
func daysApart(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)

	days := int(au.Sub(bu).Hours() / 24)
	if days < 0 {
		days = -days
	}

	return days
}

// amountCompatible is the candidate window: within the relative tolerance or
// within the flat fee-split tolerance.
func amountCompatible(txAmount, sum decimal.Decimal) bool {
	if money.WithinTolerance(txAmount, sum, money.FeeToleranceAbs) {
		return true
	}

	return money.RelativeDiff(sum, txAmount).LessThanOrEqual(money.RelativeTolerance)
}

func dateCompatible(tx *bankfeed.Transaction, e *ledger.Entry, cfg Config) bool {
	window := cfg.DateWindowDays
	if e.HasTag(CrossPeriodTag) {
		window = cfg.CrossPeriodWindowDays
	}

	return daysApart(tx.Date, e.Date) <= window
}

// CandidateGroups returns the bounded set of entry groups worth scoring for
// the transaction: single entries, then combinations of up to MaxGroupSize
// whose summed amount satisfies the amount window (fee splits, partial
// settlements). The pool and the output are both capped.
func CandidateGroups(tx *bankfeed.Transaction, entries []*ledger.Entry, cfg Config) [][]*ledger.Entry {
	var pool []*ledger.Entry

	for _, e := range entries {
		if !dateCompatible(tx, e, cfg) {
			continue
		}

		// Entries above the fee window are still worth keeping when they
		// fall inside the relative amount window on their own; larger ones
		// can never contribute to any group.
		amt := entryAmount(e)
		if amt.LessThanOrEqual(tx.Amount.Add(money.FeeToleranceAbs)) || amountCompatible(tx.Amount, amt) {
			pool = append(pool, e)
		}
	}

	// Nearest amounts first, so the cap keeps the plausible ones.
	sort.SliceStable(pool, func(i, j int) bool {
		di := money.Diff(entryAmount(pool[i]), tx.Amount)
		dj := money.Diff(entryAmount(pool[j]), tx.Amount)

		return di.LessThan(dj)
	})

	if len(pool) > cfg.MaxCandidates {
		pool = pool[:cfg.MaxCandidates]
	}

	var groups [][]*ledger.Entry

	for _, e := range pool {
		if amountCompatible(tx.Amount, entryAmount(e)) {
			groups = append(groups, []*ledger.Entry{e})
		}
	}

	if cfg.MaxGroupSize >= 2 {
		groups = append(groups, pairGroups(tx, pool, cfg)...)
	}

	if cfg.MaxGroupSize >= 3 {
		groups = append(groups, tripleGroups(tx, pool, cfg)...)
	}

	if len(groups) > cfg.MaxCandidates {
		groups = groups[:cfg.MaxCandidates]
	}

	return groups
}

func pairGroups(tx *bankfeed.Transaction, pool []*ledger.Entry, cfg Config) [][]*ledger.Entry {
	var groups [][]*ledger.Entry

	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			sum := entryAmount(pool[i]).Add(entryAmount(pool[j]))
			if amountCompatible(tx.Amount, sum) {
				groups = append(groups, []*ledger.Entry{pool[i], pool[j]})
			}

			if len(groups) >= cfg.MaxCandidates {
				return groups
			}
		}
	}

	return groups
}

func tripleGroups(tx *bankfeed.Transaction, pool []*ledger.Entry, cfg Config) [][]*ledger.Entry {
	var groups [][]*ledger.Entry

	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			partial := entryAmount(pool[i]).Add(entryAmount(pool[j]))
			if partial.GreaterThan(tx.Amount.Add(money.FeeToleranceAbs)) {
				continue
			}

			for k := j + 1; k < len(pool); k++ {
				sum := partial.Add(entryAmount(pool[k]))
				if amountCompatible(tx.Amount, sum) {
					groups = append(groups, []*ledger.Entry{pool[i], pool[j], pool[k]})
				}

				if len(groups) >= cfg.MaxCandidates {
					return groups
				}
			}
		}
	}

	return groups
}

// ScoreGroup computes the weighted five-dimension confidence score for a
// candidate group. Missing inputs never fail scoring: the affected dimension
// contributes zero and is recorded in the breakdown.
func ScoreGroup(tx *bankfeed.Transaction, group []*ledger.Entry, accountTypes map[uuid.UUID]ledger.AccountType, history History, cfg Config) Scored {
	var breakdown Breakdown

	skip := func(dim string) {
		breakdown.Skipped = append(breakdown.Skipped, dim)
	}

	// Amount: aggregate over the group.
	if tx.Amount.IsZero() {
		skip(dimAmount)
	} else {
		breakdown.Amount = amountScore(tx.Amount, groupAmount(group))
	}

	// Date proximity: minimum distance across the group.
	if tx.Date.IsZero() {
		skip(dimDate)
	} else {
		minDays := -1

		for _, e := range group {
			d := daysApart(tx.Date, e.Date)
			if minDays < 0 || d < minDays {
				minDays = d
			}
		}

		breakdown.Date = dateScore(minDays)
	}

	// Description similarity: best memo across the group.
	switch {
	case tx.Description == "":
		skip(dimDescription)
	default:
		best := 0.0
		hasMemo := false

		for _, e := range group {
			if e.Memo == "" {
				continue
			}

			hasMemo = true

			if sim := Similarity(tx.Description, e.Memo); sim > best {
				best = sim
			}
		}

		if !hasMemo {
			skip(dimDescription)
		} else {
			breakdown.Description = best * 100
		}
	}

	// Business-logic validity: every entry in the group must be compatible
	// with the transaction's direction.
	valid := true

	for _, e := range group {
		if !directionCompatible(tx, e, accountTypes) {
			valid = false
			break
		}
	}

	if valid {
		breakdown.Validity = 100
	}

	// Historical pattern.
	if tx.Description == "" {
		skip(dimHistory)
	} else if history.Has(PatternKey(tx.Description)) {
		breakdown.History = 100
	}

	total := cfg.WeightAmount*breakdown.Amount +
		cfg.WeightDate*breakdown.Date +
		cfg.WeightDescription*breakdown.Description +
		cfg.WeightValidity*breakdown.Validity +
		cfg.WeightHistory*breakdown.History

	if total < 0 {
		total = 0
	}

	if total > 100 {
		total = 100
	}

	ids := make([]uuid.UUID, len(group))
	for i, e := range group {
		ids[i] = e.ID
	}

	return Scored{EntryIDs: ids, Score: total, Breakdown: breakdown}
}

func amountScore(txAmount, sum decimal.Decimal) float64 {
	diff := money.Diff(txAmount, sum)

	switch {
	case diff.LessThanOrEqual(money.BalanceTolerance):
		return scoreExact
	case money.RelativeDiff(sum, txAmount).LessThan(money.RelativeTolerance):
		return scoreNear
	case diff.LessThanOrEqual(money.FeeToleranceAbs):
		// Fee-split heuristic: a flat window, deliberately not scaled
		// with the amount.
		return scoreFeeSplit
	default:
		s := 100 - diff.InexactFloat64()*10
		if s < 0 {
			return 0
		}

		return s
	}
}

func dateScore(days int) float64 {
	switch {
	case days == 0:
		return scoreExact
	case days <= 3:
		return scoreNear
	case days <= 7:
		return scoreFeeSplit
	default:
		s := 100 - float64(days)*10
		if s < 0 {
			return 0
		}

		return s
	}
}

// directionCompatible applies the classification sanity rules: an outgoing
// transaction must credit an asset somewhere and must not be explained by a
// credit to income; incoming is the mirror image.
func directionCompatible(tx *bankfeed.Transaction, e *ledger.Entry, accountTypes map[uuid.UUID]ledger.AccountType) bool {
	var touchesAssetCorrectly bool

	for _, l := range e.Lines {
		typ, known := accountTypes[l.AccountID]
		if !known {
			continue
		}

		switch tx.Direction {
		case bankfeed.DirectionOut:
			if l.Direction == ledger.Credit && typ == ledger.TypeAsset {
				touchesAssetCorrectly = true
			}

			if l.Direction == ledger.Credit && typ == ledger.TypeIncome {
				return false
			}
		case bankfeed.DirectionIn:
			if l.Direction == ledger.Debit && typ == ledger.TypeAsset {
				touchesAssetCorrectly = true
			}

			if l.Direction == ledger.Debit && typ == ledger.TypeExpense {
				return false
			}
		}
	}

	return touchesAssetCorrectly
}

// BestMatch scores every candidate group and returns the strongest, or nil
// when no candidate exists.
func BestMatch(tx *bankfeed.Transaction, entries []*ledger.Entry, accountTypes map[uuid.UUID]ledger.AccountType, history History, cfg Config) *Scored {
	var best *Scored

	for _, group := range CandidateGroups(tx, entries, cfg) {
		scored := ScoreGroup(tx, group, accountTypes, history, cfg)
		if best == nil || scored.Score > best.Score {
			s := scored
			best = &s
		}
	}

	return best
}
