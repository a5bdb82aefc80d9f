package matching

import (
	"math"

	"github.com/tallyhq/tally/internal/ledger"
)

// Config is the scoring configuration. It is passed into the engine
// explicitly so scoring stays a pure function of its inputs.
type Config struct {
	// Dimension weights; must sum to 1.0.
	WeightAmount      float64
	WeightDate        float64
	WeightDescription float64
	WeightValidity    float64
	WeightHistory     float64

	// Score thresholds: >= AutoAccept auto-accepts, >= Review queues for
	// manual review, below Review no match record is created.
	AutoAcceptThreshold float64
	ReviewThreshold     float64

	// Candidate windows.
	DateWindowDays        int
	CrossPeriodWindowDays int

	// Bounds on candidate search.
	MaxCandidates int
	MaxGroupSize  int
}

// CrossPeriodTag marks entries that may match bank transactions outside the
// normal date window (e.g. a December invoice settled in January).
const CrossPeriodTag = "cross-period"

func DefaultConfig() Config {
	return Config{
		WeightAmount:          0.40,
		WeightDate:            0.25,
		WeightDescription:     0.20,
		WeightValidity:        0.10,
		WeightHistory:         0.05,
		AutoAcceptThreshold:   85,
		ReviewThreshold:       60,
		DateWindowDays:        7,
		CrossPeriodWindowDays: 30,
		MaxCandidates:         50,
		MaxGroupSize:          3,
	}
}

// Validate rejects configurations the engine would misbehave on.
func (c Config) Validate() error {
	weights := []float64{c.WeightAmount, c.WeightDate, c.WeightDescription, c.WeightValidity, c.WeightHistory}

	sum := 0.0

	for _, w := range weights {
		if w < 0 || w > 1 {
			return ledger.Validationf("matching weight %v out of [0,1]", w)
		}

		sum += w
	}

	if math.Abs(sum-1.0) > 1e-9 {
		return ledger.Validationf("matching weights sum to %v, want 1.0", sum)
	}

	if c.ReviewThreshold < 0 || c.AutoAcceptThreshold > 100 || c.ReviewThreshold >= c.AutoAcceptThreshold {
		return ledger.Validationf("matching thresholds must satisfy 0 <= review < auto <= 100")
	}

	if c.DateWindowDays <= 0 || c.CrossPeriodWindowDays < c.DateWindowDays {
		return ledger.Validationf("matching date windows must satisfy 0 < window <= cross-period window")
	}

	if c.MaxCandidates <= 0 || c.MaxGroupSize < 1 {
		return ledger.Validationf("matching candidate bounds must be positive")
	}

	return nil
}
