package analyzers

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VolumeAnalysis is the scored breakdown of a value profile.
type VolumeAnalysis struct {
	// OverallScore combines the component scores, in [0,1]. Higher means
	// the values look engineered rather than organic.
	OverallScore float64 `json:"overall_score"`

	Uniformity     float64 `json:"uniformity"`
	RoundNumbers   float64 `json:"round_numbers"`
	RepeatedValues float64 `json:"repeated_values"`
	Skewness       float64 `json:"skewness"`
	Kurtosis       float64 `json:"kurtosis"`

	SampleSize int `json:"sample_size"`
}

const (
	uniformityWeight  = 0.30
	roundNumberWeight = 0.20
	repeatedWeight    = 0.20
	skewWeight        = 0.15
	kurtosisWeight    = 0.15
)

// VolumeAnalyzer scores transaction value sequences for uniformity, round
// amounts and repeated exact values, and measures value preservation across
// transfer chains.
type VolumeAnalyzer struct {
	logger *zap.SugaredLogger
}

func NewVolumeAnalyzer(logger *zap.SugaredLogger) *VolumeAnalyzer {
	return &VolumeAnalyzer{logger: logger}
}

// AnalyzeValueDistribution scores a set of transaction values. Fewer than
// three values carry no distribution signal and score zero.
func (a *VolumeAnalyzer) AnalyzeValueDistribution(values []decimal.Decimal) VolumeAnalysis {
	result := VolumeAnalysis{SampleSize: len(values)}
	if len(values) < 3 {
		return result
	}

	floats := make([]float64, len(values))
	for i, v := range values {
		floats[i], _ = v.Float64()
	}
	mean := meanOf(floats)
	sd := stddevOf(floats, mean)

	result.Uniformity = uniformityScore(mean, sd)
	result.RoundNumbers = roundNumberScore(values)
	result.RepeatedValues = repeatedValueScore(values)
	result.Skewness = skewnessScore(floats, mean, sd)
	result.Kurtosis = kurtosisScore(floats, mean, sd)

	result.OverallScore = clamp01(
		uniformityWeight*result.Uniformity +
			roundNumberWeight*result.RoundNumbers +
			repeatedWeight*result.RepeatedValues +
			skewWeight*result.Skewness +
			kurtosisWeight*result.Kurtosis)

	if a.logger != nil && result.OverallScore > 0.7 {
		a.logger.Debugw("suspicious value distribution",
			"score", result.OverallScore,
			"samples", result.SampleSize)
	}
	return result
}

// ValueSimilarity returns how close two amounts are as a ratio of the
// smaller to the larger, in [0,1]. Zero against a positive value scores 0.
func ValueSimilarity(a, b decimal.Decimal) float64 {
	if a.IsZero() && b.IsZero() {
		return 1
	}
	if a.IsZero() || b.IsZero() {
		return 0
	}
	small, large := a.Abs(), b.Abs()
	if small.GreaterThan(large) {
		small, large = large, small
	}
	ratio, _ := small.Div(large).Float64()
	return clamp01(ratio)
}

// ValuePreservation returns the fraction of the input value that survives
// to the output, capped at 1. A chain that loses almost nothing is a wash
// candidate; a chain that pays out more than came in is not preservation.
func ValuePreservation(in, out decimal.Decimal) float64 {
	if in.IsZero() {
		return 0
	}
	ratio, _ := out.Div(in).Float64()
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		// over-unity flows come from unrelated funding, not preservation
		return clamp01(2 - ratio)
	}
	return ratio
}

// PreservationResult describes how much value survives an ordered transfer
// chain and whether the preservation itself looks engineered.
type PreservationResult struct {
	Ratio     float64 `json:"ratio"`
	Preserved bool    `json:"preserved"`
	// Artificial flags near-perfect preservation that dips and recovers
	// along the chain, or lands on a round final amount. Both are evasion
	// tells, not proof.
	Artificial bool `json:"artificial"`
}

// DetectVolumePreservation scores an ordered chain of transfer values,
// first hop to last. Preserved means the ratio meets the threshold.
func DetectVolumePreservation(chain []decimal.Decimal, threshold float64) PreservationResult {
	if len(chain) < 2 || !chain[0].IsPositive() {
		return PreservationResult{}
	}
	first, last := chain[0], chain[len(chain)-1]
	ratio := ValuePreservation(first, last)
	res := PreservationResult{Ratio: ratio, Preserved: ratio >= threshold}
	if ratio <= 0.98 {
		return res
	}
	dipFloor := first.Mul(decimal.NewFromFloat(0.9))
	dipped := false
	for _, v := range chain[1 : len(chain)-1] {
		if v.LessThan(dipFloor) {
			dipped = true
			break
		}
	}
	res.Artificial = dipped || IsRoundAmount(last)
	return res
}

// uniformityScore is high when the values barely vary.
func uniformityScore(mean, sd float64) float64 {
	if mean <= 0 {
		return 0
	}
	return clamp01(1 - sd/mean)
}

// roundNumberScore is the fraction of values that are exact multiples of a
// "human round" step relative to their own magnitude.
func roundNumberScore(values []decimal.Decimal) float64 {
	round := 0
	for _, v := range values {
		if IsRoundAmount(v) {
			round++
		}
	}
	return float64(round) / float64(len(values))
}

// IsRoundAmount reports whether a value reads as a "human round" number.
func IsRoundAmount(v decimal.Decimal) bool {
	abs := v.Abs()
	if abs.IsZero() {
		return false
	}
	// a value is round when it is an integer multiple of 10^(digits-2),
	// e.g. 5000, 120000, 0 remainder against its leading two digits
	exp := int32(len(abs.Truncate(0).String())) - 2
	if exp < 0 {
		exp = 0
	}
	step := decimal.New(1, exp)
	return abs.Mod(step).IsZero()
}

// repeatedValueScore is the excess share of the most common exact value.
func repeatedValueScore(values []decimal.Decimal) float64 {
	counts := make(map[string]int, len(values))
	peak := 0
	for _, v := range values {
		key := v.String()
		counts[key]++
		if counts[key] > peak {
			peak = counts[key]
		}
	}
	if peak <= 1 {
		return 0
	}
	return clamp01(float64(peak) / float64(len(values)))
}

// skewnessScore maps absolute sample skewness into [0,1]. Organic value
// distributions are heavily right-skewed; engineered ones are symmetric,
// so a LOW skew scores high.
func skewnessScore(values []float64, mean, sd float64) float64 {
	if sd == 0 {
		return 1
	}
	skew := 0.0
	for _, v := range values {
		z := (v - mean) / sd
		skew += z * z * z
	}
	skew /= float64(len(values))
	return clamp01(1 - math.Abs(skew)/2)
}

// kurtosisScore maps excess kurtosis into [0,1]. Near-uniform engineered
// values have strongly negative excess kurtosis.
func kurtosisScore(values []float64, mean, sd float64) float64 {
	if sd == 0 {
		return 1
	}
	kurt := 0.0
	for _, v := range values {
		z := (v - mean) / sd
		kurt += z * z * z * z
	}
	kurt = kurt/float64(len(values)) - 3
	if kurt >= 0 {
		return 0
	}
	return clamp01(-kurt / 2)
}
