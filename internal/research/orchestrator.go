// Package research runs the evidence pipeline: fetch every vendor source,
// analyze each page against each requirement and record progress on the
// session.
package research

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signalcore/evidence-engine/internal/analyzer"
	"github.com/signalcore/evidence-engine/internal/catalog"
	"github.com/signalcore/evidence-engine/internal/fetcher"
	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/session"
)

// DefaultConcurrency bounds parallel fetches within one vendor.
const DefaultConcurrency = 3

// ErrSessionNotFound is returned when the session expired or never existed.
var ErrSessionNotFound = eris.New("research: session not found")

// Options configures an Orchestrator.
type Options struct {
	Concurrency int
	Now         func() time.Time
	// BaseContext bounds background runs started with Start. Cancelling it
	// stops in-flight fetches and analyzer calls. Nil leaves runs bounded
	// only by the process.
	BaseContext context.Context
	// OnEvent observes every event after it is recorded. It may be called
	// from several goroutines at once.
	OnEvent func(sessionID string, ev model.ResearchEvent)
}

// Orchestrator drives research sessions.
type Orchestrator struct {
	catalog  *catalog.Catalog
	fetcher  fetcher.Fetcher
	analyzer analyzer.Analyzer
	registry *session.Registry
	opts     Options
}

// New creates an Orchestrator. f is wrapped in a fresh CachingFetcher for
// every run.
func New(cat *catalog.Catalog, f fetcher.Fetcher, a analyzer.Analyzer, reg *session.Registry, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{catalog: cat, fetcher: f, analyzer: a, registry: reg, opts: opts}
}

// Start creates a session and runs the pipeline in the background. The run
// keeps ctx's values but not its cancellation, so it outlives the
// triggering request; it still stops when Options.BaseContext is cancelled.
func (o *Orchestrator) Start(ctx context.Context) string {
	s := o.registry.Create()
	o.registry.Update(s.ID, func(s *model.ResearchSession) {
		s.Status = model.SessionRunning
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := func() bool { return false }
	if o.opts.BaseContext != nil {
		stop = context.AfterFunc(o.opts.BaseContext, cancel)
	}
	go func() {
		defer cancel()
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("research: pipeline panicked",
					zap.String("session_id", s.ID),
					zap.Any("panic", r),
				)
				o.fail(s.ID, fmt.Sprintf("research pipeline failed: %v", r))
			}
		}()
		if err := o.Run(runCtx, s.ID); err != nil {
			zap.L().Error("research: run failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}()

	return s.ID
}

// Run executes the pipeline for an existing session and blocks until it
// finishes. A failed run leaves the session in the error state.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	start := o.opts.Now()
	ok := o.registry.Update(sessionID, func(s *model.ResearchSession) {
		s.Status = model.SessionRunning
		s.StartedAt = start.UTC()
	})
	if !ok {
		return ErrSessionNotFound
	}

	log := zap.L().With(zap.String("session_id", sessionID))
	log.Info("research: session started", zap.Int("vendors", len(o.catalog.Vendors)))

	cache := fetcher.NewCachingFetcher(o.fetcher)
	total := 0
	for _, v := range o.catalog.Vendors {
		n, err := o.runVendor(ctx, sessionID, v, cache)
		if err != nil {
			o.fail(sessionID, err.Error())
			return eris.Wrapf(err, "research: vendor %s", v.ID)
		}
		total += n
	}

	elapsed := o.opts.Now().Sub(start)
	err := o.emit(sessionID, model.SessionCompleteEvent(total, elapsed), func(s *model.ResearchSession) {
		done := o.opts.Now().UTC()
		s.Status = model.SessionComplete
		s.CompletedAt = &done
	})
	if err != nil {
		return err
	}

	log.Info("research: session complete",
		zap.Int("total_evidence", total),
		zap.Int("cached_pages", cache.Len()),
		zap.Duration("duration", elapsed),
	)
	return nil
}

// runVendor researches one vendor and returns its deduplicated evidence
// count. Analyzer failures end the vendor's job but not the run; only
// cancellation and a lost session are returned as errors.
func (o *Orchestrator) runVendor(ctx context.Context, sessionID string, v model.Vendor, f fetcher.Fetcher) (int, error) {
	log := zap.L().With(zap.String("session_id", sessionID), zap.String("vendor_id", v.ID))
	sources := o.catalog.SourcesFor(v.ID)

	err := o.emit(sessionID, model.JobStartedEvent(v), func(s *model.ResearchSession) {
		s.Jobs = append(s.Jobs, model.ResearchJob{
			ID:           "job-" + v.ID,
			Status:       model.JobFetching,
			VendorID:     v.ID,
			Sources:      sources,
			FetchedPages: []model.FetchedPage{},
			Evidence:     []model.Evidence{},
			StartedAt:    o.opts.Now().UTC(),
		})
	})
	if err != nil {
		return 0, err
	}

	pages, err := o.fetchAll(ctx, sessionID, sources, f)
	if err != nil {
		return 0, err
	}
	if err := o.updateJob(sessionID, v.ID, func(j *model.ResearchJob) {
		j.FetchedPages = pages
		j.Status = model.JobAnalyzing
	}); err != nil {
		return 0, err
	}

	var collected []model.Evidence
	for _, req := range o.catalog.Requirements {
		count := 0
		for _, page := range pages {
			if !page.OK() {
				continue
			}
			res, err := o.analyzer.Analyze(ctx, page, req, v.ID)
			if err != nil {
				if ctx.Err() != nil {
					return 0, eris.Wrap(ctx.Err(), "research: cancelled")
				}
				log.Warn("research: analysis failed",
					zap.String("requirement_id", req.ID),
					zap.String("url", page.URL),
					zap.Error(err),
				)
				kept := Dedupe(collected)
				return len(kept), o.failJob(sessionID, v.ID, kept, err)
			}
			collected = append(collected, res.Evidence...)
			count += len(res.Evidence)
		}
		if err := o.emit(sessionID, model.AnalysisCompleteEvent(v.ID, req.ID, count), nil); err != nil {
			return 0, err
		}
	}

	evidence := Dedupe(collected)
	err = o.emit(sessionID, model.JobCompleteEvent(v.ID, len(evidence)), func(s *model.ResearchSession) {
		if j := s.Job(v.ID); j != nil {
			done := o.opts.Now().UTC()
			j.Evidence = evidence
			j.Status = model.JobComplete
			j.CompletedAt = &done
		}
	})
	if err != nil {
		return 0, err
	}

	log.Info("research: vendor complete",
		zap.Int("pages", len(pages)),
		zap.Int("evidence", len(evidence)),
	)
	return len(evidence), nil
}

// fetchAll fetches sources with bounded parallelism and returns the pages
// in source order.
func (o *Orchestrator) fetchAll(ctx context.Context, sessionID string, sources []model.ResearchSource, f fetcher.Fetcher) ([]model.FetchedPage, error) {
	pages := make([]model.FetchedPage, len(sources))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			page := f.Fetch(gCtx, src)
			pages[i] = page
			return o.emit(sessionID, model.SourceFetchedEvent(page), nil)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "research: cancelled")
	}
	return pages, nil
}

// failJob records an analyzer failure on the vendor's job, keeping whatever
// evidence was collected before it.
func (o *Orchestrator) failJob(sessionID, vendorID string, evidence []model.Evidence, cause error) error {
	msg := fmt.Sprintf("analysis failed for %s: %v", vendorID, cause)
	return o.emit(sessionID, model.ErrorEvent(vendorID, msg), func(s *model.ResearchSession) {
		if j := s.Job(vendorID); j != nil {
			done := o.opts.Now().UTC()
			j.Evidence = evidence
			j.Status = model.JobError
			j.Error = msg
			j.CompletedAt = &done
		}
	})
}

// fail marks the session as errored. It is a no-op for expired sessions.
func (o *Orchestrator) fail(sessionID, msg string) {
	_ = o.emit(sessionID, model.ErrorEvent("", msg), func(s *model.ResearchSession) {
		done := o.opts.Now().UTC()
		s.Status = model.SessionError
		s.CompletedAt = &done
	})
}

func (o *Orchestrator) updateJob(sessionID, vendorID string, fn func(j *model.ResearchJob)) error {
	ok := o.registry.Update(sessionID, func(s *model.ResearchSession) {
		if j := s.Job(vendorID); j != nil {
			fn(j)
		}
	})
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// emit appends ev to the session log, applying mutate in the same update.
func (o *Orchestrator) emit(sessionID string, ev model.ResearchEvent, mutate func(s *model.ResearchSession)) error {
	ok := o.registry.Update(sessionID, func(s *model.ResearchSession) {
		if mutate != nil {
			mutate(s)
		}
		s.Events = append(s.Events, ev)
	})
	if !ok {
		return ErrSessionNotFound
	}
	if o.opts.OnEvent != nil {
		o.opts.OnEvent(sessionID, ev)
	}
	return nil
}
