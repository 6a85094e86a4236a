package analyzer

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/signalcore/evidence-engine/internal/catalog"
	"github.com/signalcore/evidence-engine/internal/model"
)

// UniformDelay returns a delay source drawing uniformly from [lo, hi].
func UniformDelay(lo, hi time.Duration) func() time.Duration {
	if hi < lo {
		hi = lo
	}
	return func() time.Duration {
		if hi == lo {
			return lo
		}
		return lo + rand.N(hi-lo+1)
	}
}

// NoDelay is a delay source for tests and batch runs.
func NoDelay() time.Duration { return 0 }

// Simulated answers from the catalog's canned response tables after an
// artificial latency. It never calls a model.
type Simulated struct {
	catalog *catalog.Catalog
	delay   func() time.Duration
}

// NewSimulated creates a simulated analyzer. A nil delay means no latency.
func NewSimulated(cat *catalog.Catalog, delay func() time.Duration) *Simulated {
	if delay == nil {
		delay = NoDelay
	}
	return &Simulated{catalog: cat, delay: delay}
}

// Analyze implements Analyzer.
func (s *Simulated) Analyze(ctx context.Context, page model.FetchedPage, req model.Requirement, vendorID string) (*model.AnalyzerResult, error) {
	if err := sleep(ctx, s.delay()); err != nil {
		return nil, err
	}

	entries := s.catalog.Responses(vendorID, req.ID)
	if len(entries) == 0 {
		return &model.AnalyzerResult{Evidence: []model.Evidence{}, Reasoning: NoEvidenceReasoning}, nil
	}

	matched := make([]catalog.CannedResponse, 0, len(entries))
	for _, e := range entries {
		if e.SourceType == page.SourceType {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		matched = entries
	}

	published, captured := pageDates(page)
	result := &model.AnalyzerResult{Evidence: make([]model.Evidence, 0, len(matched))}
	reasons := make([]string, 0, len(matched))
	for i, e := range matched {
		result.Evidence = append(result.Evidence, model.Evidence{
			ID:            evidenceID(vendorID, req.ID, i),
			VendorID:      vendorID,
			RequirementID: req.ID,
			Claim:         e.Claim,
			Snippet:       e.Snippet,
			SourceURL:     page.URL,
			SourceType:    e.SourceType,
			Strength:      e.Strength,
			PublishedAt:   published,
			CapturedAt:    captured,
		})
		if e.Reasoning != "" {
			reasons = append(reasons, e.Reasoning)
		}
	}
	result.Reasoning = strings.Join(reasons, " ")
	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
