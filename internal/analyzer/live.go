package analyzer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/catalog"
	"github.com/signalcore/evidence-engine/internal/cost"
	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/resilience"
	"github.com/signalcore/evidence-engine/pkg/anthropic"
)

// ErrInvalidReply is returned by decode when the model's reply does not
// match the evidence schema. Analyze treats it as a page-level miss.
var ErrInvalidReply = eris.New("analyzer: reply does not match evidence schema")

// InvalidReplyReasoning is the reasoning attached to a discarded reply.
const InvalidReplyReasoning = "Model reply did not match the evidence schema"

// LiveOptions configures the live analyzer.
type LiveOptions struct {
	Model     string
	MaxTokens int64
	Retry     resilience.RetryConfig
	// Breaker guards the API. Nil creates one with 5 failures and a 30s cooldown.
	Breaker *resilience.Breaker
	// Costs accumulates token spend. Nil creates a private tracker.
	Costs *cost.Tracker
}

// Live asks Claude to extract evidence from page text.
type Live struct {
	client  anthropic.Client
	catalog *catalog.Catalog
	opts    LiveOptions
	schema  *gojsonschema.Schema
}

type liveReply struct {
	Evidence []struct {
		Claim     string         `json:"claim"`
		Snippet   string         `json:"snippet"`
		Strength  model.Strength `json:"strength"`
		Reasoning string         `json:"reasoning"`
	} `json:"evidence"`
}

// NewLive creates a live analyzer.
func NewLive(client anthropic.Client, cat *catalog.Catalog, opts LiveOptions) *Live {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = anthropic.IsRetryable
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("anthropic", "analyze")
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewBreaker("anthropic", 5, 30*time.Second)
	}
	if opts.Costs == nil {
		opts.Costs = cost.NewTracker(nil)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(evidenceSchema))
	if err != nil {
		// the schema is a constant
		panic(eris.Wrap(err, "analyzer: compile evidence schema"))
	}
	return &Live{client: client, catalog: cat, opts: opts, schema: schema}
}

// Analyze implements Analyzer.
func (l *Live) Analyze(ctx context.Context, page model.FetchedPage, req model.Requirement, vendorID string) (*model.AnalyzerResult, error) {
	if strings.TrimSpace(page.Text) == "" {
		return &model.AnalyzerResult{Evidence: []model.Evidence{}, Reasoning: NoEvidenceReasoning}, nil
	}

	vendorName := vendorID
	if v, ok := l.catalog.Vendor(vendorID); ok {
		vendorName = v.Name
	}

	msgReq := anthropic.MessageRequest{
		Model:     l.opts.Model,
		MaxTokens: l.opts.MaxTokens,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: buildUserPrompt(page.Text, vendorName, req)},
		},
	}

	resp, err := resilience.DoVal(ctx, l.opts.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.Call(ctx, l.opts.Breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return l.client.CreateMessage(ctx, msgReq)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "analyzer: analyze %s/%s", vendorID, req.ID)
	}
	l.recordCost(resp.Usage)

	reply, err := l.decode(resp.Text())
	if err != nil {
		zap.L().Warn("analyzer: discarding malformed reply",
			zap.String("vendor_id", vendorID),
			zap.String("requirement_id", req.ID),
			zap.String("url", page.URL),
			zap.Error(err),
		)
		return &model.AnalyzerResult{Evidence: []model.Evidence{}, Reasoning: InvalidReplyReasoning}, nil
	}

	published, captured := pageDates(page)
	result := &model.AnalyzerResult{Evidence: make([]model.Evidence, 0, len(reply.Evidence))}
	reasons := make([]string, 0, len(reply.Evidence))
	for i, e := range reply.Evidence {
		result.Evidence = append(result.Evidence, model.Evidence{
			ID:            evidenceID(vendorID, req.ID, i),
			VendorID:      vendorID,
			RequirementID: req.ID,
			Claim:         e.Claim,
			Snippet:       e.Snippet,
			SourceURL:     page.URL,
			SourceType:    page.SourceType,
			Strength:      e.Strength,
			PublishedAt:   published,
			CapturedAt:    captured,
		})
		if e.Reasoning != "" {
			reasons = append(reasons, e.Reasoning)
		}
	}
	result.Reasoning = strings.Join(reasons, " ")
	if len(result.Evidence) == 0 {
		result.Reasoning = NoEvidenceReasoning
	}
	return result, nil
}

// decode validates text against the evidence schema and unmarshals it.
func (l *Live) decode(text string) (*liveReply, error) {
	doc := cleanJSON(text)
	res, err := l.schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, eris.Wrap(ErrInvalidReply, err.Error())
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, eris.Wrap(ErrInvalidReply, strings.Join(msgs, "; "))
	}

	var reply liveReply
	if err := json.Unmarshal([]byte(doc), &reply); err != nil {
		return nil, eris.Wrap(err, "analyzer: decode reply")
	}
	return &reply, nil
}

// cleanJSON pulls a JSON object out of text that may be wrapped in markdown
// code fences or prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// Costs returns the token spend recorded so far.
func (l *Live) Costs() cost.Totals {
	return l.opts.Costs.Totals()
}

func (l *Live) recordCost(u anthropic.TokenUsage) {
	usd := l.opts.Costs.Record(l.opts.Model, cost.Usage{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheWriteTokens: u.CacheCreationInputTokens,
		CacheReadTokens:  u.CacheReadInputTokens,
	})
	zap.L().Info("cost attribution",
		zap.String("model", l.opts.Model),
		zap.String("phase", "analyze"),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", usd),
	)
}
