package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/signalcore/evidence-engine/internal/db"
	"github.com/signalcore/evidence-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
}

// NewPostgres connects to Postgres.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	maxConns := int32(4)
	if poolCfg != nil && poolCfg.MaxConns > 0 {
		maxConns = poolCfg.MaxConns
	}
	pool, err := db.Connect(ctx, connString, maxConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id             TEXT PRIMARY KEY,
	seq            INTEGER NOT NULL,
	vendor_id      TEXT NOT NULL,
	requirement_id TEXT NOT NULL,
	claim          TEXT NOT NULL,
	snippet        TEXT NOT NULL DEFAULT '',
	source_url     TEXT NOT NULL,
	source_type    TEXT NOT NULL,
	strength       TEXT NOT NULL,
	published_at   TIMESTAMPTZ NOT NULL,
	captured_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_vendor ON evidence(vendor_id);
CREATE INDEX IF NOT EXISTS idx_evidence_vendor_requirement ON evidence(vendor_id, requirement_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error) {
	where, args := whereClause(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := s.pool.Query(ctx,
		"SELECT "+evidenceColumns+" FROM evidence"+where+" ORDER BY seq, id", args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	out := []model.Evidence{}
	for rows.Next() {
		var (
			ev                   model.Evidence
			sourceType, strength string
			published, captured  time.Time
		)
		if err := rows.Scan(&ev.ID, &ev.VendorID, &ev.RequirementID, &ev.Claim, &ev.Snippet,
			&ev.SourceURL, &sourceType, &strength, &published, &captured); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		ev.SourceType = model.SourceType(sourceType)
		ev.Strength = model.Strength(strength)
		ev.PublishedAt = published.UTC()
		ev.CapturedAt = captured.UTC()
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate evidence")
}

var evidenceUpsert = db.UpsertConfig{
	Table: "evidence",
	Columns: []string{
		"seq", "id", "vendor_id", "requirement_id", "claim", "snippet",
		"source_url", "source_type", "strength", "published_at", "captured_at",
	},
	ConflictKeys: []string{"id"},
	UpdateCols: []string{
		"vendor_id", "requirement_id", "claim", "snippet",
		"source_url", "source_type", "strength", "published_at", "captured_at",
	},
}

func (s *PostgresStore) SaveEvidence(ctx context.Context, evidence []model.Evidence) (int64, error) {
	if len(evidence) == 0 {
		return 0, nil
	}
	var next int64
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(seq) + 1, 0) FROM evidence").Scan(&next); err != nil {
		return 0, eris.Wrap(err, "postgres: next seq")
	}

	n, err := db.BulkUpsert(ctx, s.pool, evidenceUpsert, evidenceRows(evidence, next))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save evidence")
	}
	return n, nil
}

// SeedEvidence loads the corpus into an empty table with a plain COPY.
func (s *PostgresStore) SeedEvidence(ctx context.Context, corpus []model.Evidence) (int64, error) {
	n, err := db.CopyFrom(ctx, s.pool, evidenceUpsert.Table, evidenceUpsert.Columns, evidenceRows(corpus, 0))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: seed evidence")
	}
	return n, nil
}

func evidenceRows(evidence []model.Evidence, firstSeq int64) [][]any {
	rows := make([][]any, len(evidence))
	for i, ev := range evidence {
		rows[i] = []any{
			int32(firstSeq + int64(i)), ev.ID, ev.VendorID, ev.RequirementID, ev.Claim, ev.Snippet,
			ev.SourceURL, string(ev.SourceType), string(ev.Strength),
			ev.PublishedAt.UTC(), ev.CapturedAt.UTC(),
		}
	}
	return rows
}

func (s *PostgresStore) CountEvidence(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM evidence").Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count evidence")
	}
	return int(n), nil
}
