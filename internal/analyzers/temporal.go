// Package analyzers provides stateless statistical analysis of transaction
// timing and volume, used to corroborate pattern-level detections.
package analyzers

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// TemporalAnalysis is the scored breakdown of a timing profile.
type TemporalAnalysis struct {
	// OverallScore is the weighted combination of the component scores,
	// in [0,1]. Higher means more machine-like timing.
	OverallScore float64 `json:"overall_score"`

	Regularity    float64 `json:"regularity"`
	Clustering    float64 `json:"clustering"`
	Periodicity   float64 `json:"periodicity"`
	Anomaly       float64 `json:"anomaly"`
	TimeOfDayBias float64 `json:"time_of_day_bias"`

	SampleSize   int           `json:"sample_size"`
	MeanInterval time.Duration `json:"mean_interval"`
}

const (
	regularityWeight  = 0.30
	clusteringWeight  = 0.20
	periodicityWeight = 0.20
	anomalyWeight     = 0.20
	timeOfDayWeight   = 0.10
)

// Overnight window, UTC. Wraps past midnight.
const (
	offHoursStartHour = 22
	offHoursEndHour   = 6
)

// TemporalAnalyzer scores transaction timestamp sequences for artificial
// regularity, burstiness and scheduling patterns.
type TemporalAnalyzer struct {
	logger *zap.SugaredLogger
}

func NewTemporalAnalyzer(logger *zap.SugaredLogger) *TemporalAnalyzer {
	return &TemporalAnalyzer{logger: logger}
}

// AnalyzeTimingPatterns scores a set of timestamps. Fewer than three points
// carry no timing signal and score zero across the board.
func (a *TemporalAnalyzer) AnalyzeTimingPatterns(timestamps []time.Time) TemporalAnalysis {
	result := TemporalAnalysis{SampleSize: len(timestamps)}
	if len(timestamps) < 3 {
		return result
	}

	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals = append(intervals, sorted[i].Sub(sorted[i-1]).Seconds())
	}

	mean := meanOf(intervals)
	result.MeanInterval = time.Duration(mean * float64(time.Second))
	result.Regularity = regularityScore(intervals, mean)
	result.Clustering = clusteringScore(intervals, mean)
	result.Periodicity = periodicityScore(intervals, mean)
	result.Anomaly = anomalyScore(intervals, mean)
	result.TimeOfDayBias = timeOfDayBias(sorted)

	result.OverallScore = clamp01(
		regularityWeight*result.Regularity +
			clusteringWeight*result.Clustering +
			periodicityWeight*result.Periodicity +
			anomalyWeight*result.Anomaly +
			timeOfDayWeight*result.TimeOfDayBias)

	if a.logger != nil && result.OverallScore > 0.7 {
		a.logger.Debugw("suspicious timing profile",
			"score", result.OverallScore,
			"samples", result.SampleSize,
			"mean_interval", result.MeanInterval)
	}
	return result
}

// regularityScore is high when the intervals are near-constant. Human
// activity has a coefficient of variation well above 1; schedulers sit
// near zero.
func regularityScore(intervals []float64, mean float64) float64 {
	if mean <= 0 {
		// all transactions in the same instant, maximally regular
		return 1
	}
	cv := stddevOf(intervals, mean) / mean
	return clamp01(1 - cv)
}

// clusteringScore measures burstiness: the fraction of intervals that are
// an order of magnitude shorter than the mean.
func clusteringScore(intervals []float64, mean float64) float64 {
	if mean <= 0 {
		return 1
	}
	threshold := mean * 0.1
	short := 0
	for _, iv := range intervals {
		if iv <= threshold {
			short++
		}
	}
	return float64(short) / float64(len(intervals))
}

// periodicityScore maps the lag-1 autocorrelation of the interval series
// into [0,1]. A strong positive autocorrelation means the sequence repeats
// its cadence.
func periodicityScore(intervals []float64, mean float64) float64 {
	if len(intervals) < 3 {
		return 0
	}
	variance := 0.0
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	if variance == 0 {
		// a perfectly constant series is perfectly periodic
		return 1
	}
	covar := 0.0
	for i := 1; i < len(intervals); i++ {
		covar += (intervals[i] - mean) * (intervals[i-1] - mean)
	}
	return clamp01(covar / variance)
}

// anomalyScore is the fraction of intervals more than two standard
// deviations away from the mean.
func anomalyScore(intervals []float64, mean float64) float64 {
	sd := stddevOf(intervals, mean)
	if sd == 0 {
		return 0
	}
	outliers := 0
	for _, iv := range intervals {
		if math.Abs(iv-mean) > 2*sd {
			outliers++
		}
	}
	return clamp01(2 * float64(outliers) / float64(len(intervals)))
}

// timeOfDayBias measures scheduling bias in the daily activity profile.
// Two signals raise it: concentration of activity into a single hour
// bucket, and a heavy share of activity inside the overnight window. The
// stronger of the two wins, so a spread-out but nocturnal sequence still
// scores high.
func timeOfDayBias(timestamps []time.Time) float64 {
	var buckets [24]int
	offHours := 0
	for _, ts := range timestamps {
		hour := ts.UTC().Hour()
		buckets[hour]++
		if hour >= offHoursStartHour || hour < offHoursEndHour {
			offHours++
		}
	}
	peak := 0
	for _, n := range buckets {
		if n > peak {
			peak = n
		}
	}
	concentration := 0.0
	uniform := float64(len(timestamps)) / 24.0
	if float64(peak) > uniform {
		concentration = clamp01((float64(peak) - uniform) / (float64(len(timestamps)) - uniform))
	}
	offRatio := float64(offHours) / float64(len(timestamps))
	if offRatio > concentration {
		return offRatio
	}
	return concentration
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(len(values)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
