// Package scoring turns evidence into per-requirement scores and ranked
// vendor totals. Every result depends only on its inputs and the engine's
// clock.
package scoring

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/signalcore/evidence-engine/internal/model"
)

// Engine scores evidence relative to its clock.
type Engine struct {
	now func() time.Time
}

// New creates an Engine. A nil clock uses time.Now.
func New(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// At returns an Engine frozen at t.
func At(t time.Time) *Engine {
	return New(func() time.Time { return t })
}

// Freshness buckets a publication date by its age in whole days.
func (e *Engine) Freshness(published time.Time) model.FreshnessLevel {
	days := int(math.Floor(e.now().Sub(published).Hours() / 24))
	switch {
	case days < freshDays:
		return model.FreshnessFresh
	case days <= agingDays:
		return model.FreshnessAging
	default:
		return model.FreshnessStale
	}
}

// RequirementScore averages source weight × strength × recency over items
// and scales the result to 0–10. Empty input scores 0.
func (e *Engine) RequirementScore(items []model.Evidence) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, ev := range items {
		sum += SourceWeight(ev.SourceType) *
			StrengthMultiplier(ev.Strength) *
			recencyMultipliers[e.Freshness(ev.PublishedAt)]
	}
	return math.Min(10, sum/float64(len(items))*10)
}

// Confidence classifies how far items can be trusted. Three or more items
// including an official and a fresh one are high; two or more, or any
// official item, are medium. Empty or entirely stale evidence is always low.
func (e *Engine) Confidence(items []model.Evidence) model.ConfidenceLevel {
	if len(items) == 0 {
		return model.ConfidenceLow
	}

	official, fresh, allStale := false, false, true
	for _, ev := range items {
		if ev.SourceType == model.SourceOfficial {
			official = true
		}
		switch e.Freshness(ev.PublishedAt) {
		case model.FreshnessFresh:
			fresh = true
			allStale = false
		case model.FreshnessAging:
			allStale = false
		}
	}

	switch {
	case allStale:
		return model.ConfidenceLow
	case len(items) >= 3 && official && fresh:
		return model.ConfidenceHigh
	case len(items) >= 2 || official:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// Score rates one vendor against one requirement using the matching items
// of evidence.
func (e *Engine) Score(vendorID, requirementID string, evidence []model.Evidence) model.Score {
	items := filter(evidence, vendorID, requirementID)

	level := model.FreshnessStale
	for _, ev := range items {
		if f := e.Freshness(ev.PublishedAt); freshnessRank(f) > freshnessRank(level) {
			level = f
		}
	}

	return model.Score{
		VendorID:       vendorID,
		RequirementID:  requirementID,
		Score:          round2(e.RequirementScore(items)),
		Confidence:     e.Confidence(items),
		EvidenceCount:  len(items),
		FreshnessLevel: level,
	}
}

// VendorScores scores every vendor against every requirement and ranks the
// vendors by weighted total, highest first. A nil weights map weighs each
// requirement by its priority; otherwise requirements missing from weights
// weigh 1.
func (e *Engine) VendorScores(vendors []model.Vendor, reqs []model.Requirement, evidence []model.Evidence, weights map[string]float64) []model.VendorScore {
	out := make([]model.VendorScore, 0, len(vendors))
	for _, v := range vendors {
		scores := make([]model.Score, 0, len(reqs))
		var weighted, total float64
		for _, r := range reqs {
			s := e.Score(v.ID, r.ID, evidence)
			scores = append(scores, s)

			w := PriorityWeight(r.Priority)
			if weights != nil {
				w = customWeight(weights, r.ID)
			}
			weighted += s.Score * w
			total += w
		}
		out = append(out, model.VendorScore{
			Vendor:     v,
			TotalScore: weightedTotal(weighted, total),
			Confidence: aggregateConfidence(scores),
			Scores:     scores,
		})
	}
	sortByTotal(out)
	return out
}

// Recalculate re-weights existing vendor scores and re-ranks them. The
// input slice is left untouched.
func (e *Engine) Recalculate(scores []model.VendorScore, weights map[string]float64) []model.VendorScore {
	out := make([]model.VendorScore, len(scores))
	for i, vs := range scores {
		var weighted, total float64
		for _, s := range vs.Scores {
			w := customWeight(weights, s.RequirementID)
			weighted += s.Score * w
			total += w
		}
		vs.Scores = slices.Clone(vs.Scores)
		vs.TotalScore = weightedTotal(weighted, total)
		out[i] = vs
	}
	sortByTotal(out)
	return out
}

func customWeight(weights map[string]float64, requirementID string) float64 {
	if w, ok := weights[requirementID]; ok {
		return w
	}
	return 1
}

func weightedTotal(weighted, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(weighted / total)
}

// aggregateConfidence averages high=2, medium=1, low=0 and maps back.
func aggregateConfidence(scores []model.Score) model.ConfidenceLevel {
	if len(scores) == 0 {
		return model.ConfidenceLow
	}
	var sum float64
	for _, s := range scores {
		sum += confidenceValue(s.Confidence)
	}
	avg := sum / float64(len(scores))
	switch {
	case avg >= 1.5:
		return model.ConfidenceHigh
	case avg >= 0.5:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func filter(evidence []model.Evidence, vendorID, requirementID string) []model.Evidence {
	var out []model.Evidence
	for _, ev := range evidence {
		if ev.VendorID == vendorID && ev.RequirementID == requirementID {
			out = append(out, ev)
		}
	}
	return out
}

func sortByTotal(scores []model.VendorScore) {
	slices.SortStableFunc(scores, func(a, b model.VendorScore) int {
		return cmp.Compare(b.TotalScore, a.TotalScore)
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
