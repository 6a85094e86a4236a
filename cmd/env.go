package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/analyzer"
	"github.com/signalcore/evidence-engine/internal/catalog"
	"github.com/signalcore/evidence-engine/internal/config"
	"github.com/signalcore/evidence-engine/internal/cost"
	"github.com/signalcore/evidence-engine/internal/fetcher"
	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/research"
	"github.com/signalcore/evidence-engine/internal/scoring"
	"github.com/signalcore/evidence-engine/internal/session"
	"github.com/signalcore/evidence-engine/internal/store"
)

// appEnv holds everything the serve/research/score commands share.
type appEnv struct {
	Catalog      *catalog.Catalog
	Store        store.Store
	Registry     *session.Registry
	Orchestrator *research.Orchestrator
	Scoring      *scoring.Engine
	Costs        *cost.Tracker
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// openCorpus validates cfg for mode, loads the catalog and opens a store
// seeded with the reference corpus. Callers should defer env.Close().
func openCorpus(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	cat, err := catalog.Load()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if _, err := store.Bootstrap(ctx, st, cat.Evidence); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "bootstrap store")
	}

	return &appEnv{
		Catalog: cat,
		Store:   st,
		Scoring: scoring.New(nil),
	}, nil
}

// initEnv extends openCorpus with the research pipeline. onEvent may be nil.
func initEnv(ctx context.Context, c *config.Config, mode string, onEvent func(string, model.ResearchEvent)) (*appEnv, error) {
	env, err := openCorpus(ctx, c, mode)
	if err != nil {
		return nil, err
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    c.Fetch.UserAgent,
		Timeout:      time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:   c.Fetch.MaxRetries,
		RetryBackoff: time.Duration(c.Fetch.RetryBackoffMillis) * time.Millisecond,
		GitHubToken:  c.Fetch.GitHubToken,
		GitHubRPS:    c.Fetch.GitHubRPS,
	})
	env.Costs = cost.NewTracker(nil)
	a := analyzer.New(c, env.Catalog, nil, env.Costs)

	env.Registry = session.NewRegistry(c.Research.SessionTTL())
	env.Orchestrator = research.New(env.Catalog, f, a, env.Registry, research.Options{
		Concurrency: c.Research.Concurrency,
		OnEvent:     onEvent,
		BaseContext: ctx,
	})

	zap.L().Info("research pipeline ready",
		zap.String("mode", c.Research.Mode),
		zap.Bool("live_analyzer", c.LiveEnabled()),
		zap.String("store", c.Store.Driver),
		zap.Int("vendors", len(env.Catalog.Vendors)),
		zap.Int("sources", len(env.Catalog.Sources)),
	)
	return env, nil
}
