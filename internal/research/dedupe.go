package research

import "github.com/signalcore/evidence-engine/internal/model"

// Dedupe keeps one item per vendor/requirement pair: the one with the
// highest strength, or the earliest on a tie. Pairs keep the order in which
// they first appear. The input is not modified.
func Dedupe(items []model.Evidence) []model.Evidence {
	type key struct{ vendor, requirement string }

	out := make([]model.Evidence, 0, len(items))
	index := make(map[key]int, len(items))
	for _, ev := range items {
		k := key{ev.VendorID, ev.RequirementID}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, ev)
			continue
		}
		if ev.Strength.Rank() > out[i].Strength.Rank() {
			out[i] = ev
		}
	}
	return out
}
