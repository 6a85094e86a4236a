// Package store persists the reference evidence corpus served by the
// scoring and evidence endpoints.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/config"
	"github.com/signalcore/evidence-engine/internal/model"
)

// EvidenceFilter narrows ListEvidence. Empty fields match everything.
type EvidenceFilter struct {
	VendorID      string `json:"vendorId,omitempty"`
	RequirementID string `json:"requirementId,omitempty"`
}

// Store is the evidence corpus backend.
type Store interface {
	// ListEvidence returns matching evidence in corpus order.
	ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error)
	// SaveEvidence appends evidence after the existing corpus in slice
	// order. A row whose id already exists is updated in place and keeps
	// its position.
	SaveEvidence(ctx context.Context, evidence []model.Evidence) (int64, error)
	CountEvidence(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = ":memory:"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// seeder is implemented by stores with a faster load path for an empty
// table.
type seeder interface {
	SeedEvidence(ctx context.Context, corpus []model.Evidence) (int64, error)
}

// SessionEvidence returns copies of a session's evidence with ids scoped to
// sessionID, so saving them never replaces corpus rows that share the
// analyzer's id pattern.
func SessionEvidence(sessionID string, evidence []model.Evidence) []model.Evidence {
	out := make([]model.Evidence, len(evidence))
	for i, ev := range evidence {
		ev.ID = sessionID + ":" + ev.ID
		out[i] = ev
	}
	return out
}

// Bootstrap migrates st and seeds it with corpus when it is empty. It
// returns the number of rows written.
func Bootstrap(ctx context.Context, st Store, corpus []model.Evidence) (int64, error) {
	if err := st.Migrate(ctx); err != nil {
		return 0, err
	}
	n, err := st.CountEvidence(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Debug("store: corpus already seeded", zap.Int("rows", n))
		return 0, nil
	}

	var written int64
	if sd, ok := st.(seeder); ok {
		written, err = sd.SeedEvidence(ctx, corpus)
	} else {
		written, err = st.SaveEvidence(ctx, corpus)
	}
	if err != nil {
		return 0, eris.Wrap(err, "store: seed corpus")
	}
	zap.L().Info("store: seeded evidence corpus", zap.Int64("rows", written))
	return written, nil
}

// whereClause builds the filter predicate with placeholders from ph.
func whereClause(f EvidenceFilter, ph func(n int) string) (string, []any) {
	var conds []string
	var args []any
	if f.VendorID != "" {
		args = append(args, f.VendorID)
		conds = append(conds, "vendor_id = "+ph(len(args)))
	}
	if f.RequirementID != "" {
		args = append(args, f.RequirementID)
		conds = append(conds, "requirement_id = "+ph(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const evidenceColumns = "id, vendor_id, requirement_id, claim, snippet, source_url, source_type, strength, published_at, captured_at"
