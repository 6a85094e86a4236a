package scoring

import "github.com/signalcore/evidence-engine/internal/model"

// Source trust weights.
var sourceWeights = map[model.SourceType]float64{
	model.SourceOfficial:  1.0,
	model.SourceGitHub:    0.8,
	model.SourceBlog:      0.6,
	model.SourceCommunity: 0.4,
}

var strengthMultipliers = map[model.Strength]float64{
	model.StrengthStrong:   1.0,
	model.StrengthModerate: 0.7,
	model.StrengthWeak:     0.4,
}

var recencyMultipliers = map[model.FreshnessLevel]float64{
	model.FreshnessFresh: 1.0,
	model.FreshnessAging: 0.85,
	model.FreshnessStale: 0.7,
}

var priorityWeights = map[model.Priority]float64{
	model.PriorityHigh:   3,
	model.PriorityMedium: 2,
	model.PriorityLow:    1,
}

// Freshness thresholds in whole days.
const (
	freshDays = 90
	agingDays = 365
)

// SourceWeight returns the trust weight of a source type, 0 if unknown.
func SourceWeight(st model.SourceType) float64 { return sourceWeights[st] }

// StrengthMultiplier returns the multiplier for a strength, 0 if unknown.
func StrengthMultiplier(s model.Strength) float64 { return strengthMultipliers[s] }

// PriorityWeight returns the aggregation weight for a priority. Unknown
// priorities weigh 1.
func PriorityWeight(p model.Priority) float64 {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return 1
}

func confidenceValue(c model.ConfidenceLevel) float64 {
	switch c {
	case model.ConfidenceHigh:
		return 2
	case model.ConfidenceMedium:
		return 1
	}
	return 0
}

func freshnessRank(f model.FreshnessLevel) int {
	switch f {
	case model.FreshnessFresh:
		return 2
	case model.FreshnessAging:
		return 1
	}
	return 0
}
