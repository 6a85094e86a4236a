// Package monitoring collects point-in-time health metrics for the API.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/signalcore/evidence-engine/internal/cost"
	"github.com/signalcore/evidence-engine/internal/model"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Live sessions by status.
	SessionsTotal    int     `json:"sessionsTotal"`
	SessionsIdle     int     `json:"sessionsIdle"`
	SessionsRunning  int     `json:"sessionsRunning"`
	SessionsComplete int     `json:"sessionsComplete"`
	SessionsFailed   int     `json:"sessionsFailed"`
	SessionFailRate  float64 `json:"sessionFailRate"`

	CorpusEvidence int `json:"corpusEvidence"`

	// Live analyzer spend since process start.
	Analyzer cost.Totals `json:"analyzer"`

	CollectedAt time.Time `json:"collectedAt"`
}

// SessionCounter reports live sessions per status.
type SessionCounter interface {
	Counts() map[model.SessionStatus]int
}

// EvidenceCounter reports the size of the evidence corpus.
type EvidenceCounter interface {
	CountEvidence(ctx context.Context) (int, error)
}

// CostSource reports accumulated analyzer spend.
type CostSource interface {
	Totals() cost.Totals
}

// Collector gathers metrics from the session registry, the store and the
// cost tracker. costs may be nil.
type Collector struct {
	sessions SessionCounter
	corpus   EvidenceCounter
	costs    CostSource
	now      func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(sessions SessionCounter, corpus EvidenceCounter, costs CostSource) *Collector {
	return &Collector{sessions: sessions, corpus: corpus, costs: costs, now: time.Now}
}

// Collect gathers a snapshot of current metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: c.now().UTC()}

	for status, n := range c.sessions.Counts() {
		snap.SessionsTotal += n
		switch status {
		case model.SessionIdle:
			snap.SessionsIdle += n
		case model.SessionRunning:
			snap.SessionsRunning += n
		case model.SessionComplete:
			snap.SessionsComplete += n
		case model.SessionError:
			snap.SessionsFailed += n
		}
	}
	if finished := snap.SessionsComplete + snap.SessionsFailed; finished > 0 {
		snap.SessionFailRate = float64(snap.SessionsFailed) / float64(finished)
	}

	n, err := c.corpus.CountEvidence(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count evidence")
	}
	snap.CorpusEvidence = n

	if c.costs != nil {
		snap.Analyzer = c.costs.Totals()
	}
	return snap, nil
}
