// Package analyzer extracts evidence about a vendor requirement from a
// fetched page.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/catalog"
	"github.com/signalcore/evidence-engine/internal/config"
	"github.com/signalcore/evidence-engine/internal/cost"
	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/pkg/anthropic"
)

// NoEvidenceReasoning is reported when a pair has nothing to say.
const NoEvidenceReasoning = "No relevant evidence found"

// Analyzer produces evidence for one page and requirement.
type Analyzer interface {
	Analyze(ctx context.Context, page model.FetchedPage, req model.Requirement, vendorID string) (*model.AnalyzerResult, error)
}

// New picks the analyzer for cfg.Research.Mode. Live mode without an API key
// falls back to the simulated analyzer. A nil client is built from the key.
// costs receives live token spend and may be nil.
func New(cfg *config.Config, cat *catalog.Catalog, client anthropic.Client, costs *cost.Tracker) Analyzer {
	delay := UniformDelay(
		time.Duration(cfg.Analyzer.MinLatencyMillis)*time.Millisecond,
		time.Duration(cfg.Analyzer.MaxLatencyMillis)*time.Millisecond,
	)

	if cfg.Research.Mode != config.ModeLive {
		return NewSimulated(cat, delay)
	}
	if cfg.Anthropic.Key == "" {
		zap.L().Warn("analyzer: live mode requested without ANTHROPIC_API_KEY, using simulated analyzer")
		return NewSimulated(cat, delay)
	}

	if client == nil {
		client = anthropic.NewClient(cfg.Anthropic.Key)
	}
	zap.L().Info("analyzer: using live analyzer", zap.String("model", cfg.Anthropic.Model))
	return NewLive(client, cat, LiveOptions{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		Costs:     costs,
	})
}

// evidenceID formats the per-pair evidence id.
func evidenceID(vendorID, requirementID string, i int) string {
	return fmt.Sprintf("ev-%s-%s-%d", vendorID, requirementID, i)
}

// pageDates returns the publication and capture timestamps for evidence
// drawn from page.
func pageDates(page model.FetchedPage) (published, captured time.Time) {
	captured = page.FetchedAt
	published = captured
	if page.PublishedAt != nil {
		published = *page.PublishedAt
	}
	return published, captured
}
