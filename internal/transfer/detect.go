package transfer

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/matching"
	"github.com/tallyhq/tally/internal/money"
)

// Keyword tiers for the description classifier. Strong keywords name the
// transfer mechanism itself; weak ones describe cash movements that are
// often, but not always, transfers.
var (
	strongKeywords = []string{
		"transfer", "trf", "wire", "paynow", "fast payment", "giro",
		"internal", "own account",
	}
	weakKeywords = []string{
		"withdrawal", "deposit", "atm", "cash",
	}
)

const (
	descStrong = 100.0
	descWeak   = 70.0

	// loneLegStrong is the score assigned when a strongly keyworded
	// transaction has no counterpart leg yet: the first leg of a transfer
	// must post before the second arrives.
	loneLegStrong = 85.0
	loneLegWeak   = 70.0
)

// Config is the transfer classifier configuration.
type Config struct {
	WeightAmount      float64
	WeightDescription float64
	WeightDate        float64
	WeightHistory     float64

	AutoThreshold    float64
	ConfirmThreshold float64

	// GracePeriodDays bounds how long a leg may stay unpaired before it is
	// surfaced for manual review.
	GracePeriodDays int
}

func DefaultConfig() Config {
	return Config{
		WeightAmount:      0.40,
		WeightDescription: 0.30,
		WeightDate:        0.20,
		WeightHistory:     0.10,
		AutoThreshold:     85,
		ConfirmThreshold:  60,
		GracePeriodDays:   7,
	}
}

func (c Config) Validate() error {
	sum := c.WeightAmount + c.WeightDescription + c.WeightDate + c.WeightHistory
	if math.Abs(sum-1.0) > 1e-9 {
		return ledger.Validationf("transfer weights sum to %v, want 1.0", sum)
	}

	if c.ConfirmThreshold < 0 || c.AutoThreshold > 100 || c.ConfirmThreshold >= c.AutoThreshold {
		return ledger.Validationf("transfer thresholds must satisfy 0 <= confirm < auto <= 100")
	}

	if c.GracePeriodDays <= 0 {
		return ledger.Validationf("transfer grace period must be positive")
	}

	return nil
}

func (c Config) gracePeriod() time.Duration {
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}

// DescriptionScore classifies a bank description by keyword tier.
func DescriptionScore(description string) float64 {
	norm := matching.Normalize(description)
	if norm == "" {
		return 0
	}

	for _, kw := range strongKeywords {
		if strings.Contains(norm, kw) {
			return descStrong
		}
	}

	for _, kw := range weakKeywords {
		if strings.Contains(norm, kw) {
			return descWeak
		}
	}

	return 0
}

// LoneScore is the transfer likelihood for a transaction with no counterpart
// leg on record yet. Only the description can speak for it.
func LoneScore(tx *bankfeed.Transaction) float64 {
	switch DescriptionScore(tx.Description) {
	case descStrong:
		return loneLegStrong
	case descWeak:
		return loneLegWeak
	default:
		return 0
	}
}

// PairScore scores a pending transaction against an unpaired leg of the
// opposite direction, using the weighted amount/description/date/history
// dimensions.
func PairScore(tx *bankfeed.Transaction, leg *Leg, pairedBefore bool, cfg Config) float64 {
	score := cfg.WeightAmount*amountScore(tx.Amount, leg.Amount) +
		cfg.WeightDescription*DescriptionScore(tx.Description) +
		cfg.WeightDate*dateScore(tx.Date, leg.Date)

	if pairedBefore {
		score += cfg.WeightHistory * 100
	}

	if score > 100 {
		score = 100
	}

	return score
}

// PairableAmounts reports whether two leg amounts may belong to the same
// transfer: equal within the balance tolerance, or differing by no more than
// the flat fee tolerance (the bank took a cut).
func PairableAmounts(out, in decimal.Decimal) bool {
	return money.WithinTolerance(out, in, money.FeeToleranceAbs)
}

func amountScore(a, b decimal.Decimal) float64 {
	diff := money.Diff(a, b)

	switch {
	case diff.LessThanOrEqual(money.BalanceTolerance):
		return 100
	case money.RelativeDiff(a, b).LessThan(money.RelativeTolerance):
		return 90
	case diff.LessThanOrEqual(money.FeeToleranceAbs):
		return 70
	default:
		s := 100 - diff.InexactFloat64()*10
		if s < 0 {
			return 0
		}

		return s
	}
}

func dateScore(a, b time.Time) float64 {
	days := int(math.Abs(a.Sub(b).Hours()) / 24)

	switch {
	case days == 0:
		return 100
	case days <= 3:
		return 90
	case days <= 7:
		return 70
	default:
		s := 100 - float64(days)*10
		if s < 0 {
			return 0
		}

		return s
	}
}
