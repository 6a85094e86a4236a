package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/signalcore/evidence-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database. File databases use WAL mode; an
// in-memory database is pinned to one connection so every query sees it.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if isMemory(dsn) {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

const sqliteMigration = `
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
	published_at   TEXT NOT NULL,
	captured_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_vendor ON evidence(vendor_id);
CREATE INDEX IF NOT EXISTS idx_evidence_vendor_requirement ON evidence(vendor_id, requirement_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error) {
	where, args := whereClause(filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+evidenceColumns+" FROM evidence"+where+" ORDER BY seq, id", args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Evidence{}
	for rows.Next() {
		var (
			ev                   model.Evidence
			sourceType, strength string
			published, captured  string
		)
		if err := rows.Scan(&ev.ID, &ev.VendorID, &ev.RequirementID, &ev.Claim, &ev.Snippet,
			&ev.SourceURL, &sourceType, &strength, &published, &captured); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		ev.SourceType = model.SourceType(sourceType)
		ev.Strength = model.Strength(strength)
		if ev.PublishedAt, err = time.Parse(time.RFC3339Nano, published); err != nil {
			return nil, eris.Wrapf(err, "sqlite: evidence %s published_at", ev.ID)
		}
		if ev.CapturedAt, err = time.Parse(time.RFC3339Nano, captured); err != nil {
			return nil, eris.Wrapf(err, "sqlite: evidence %s captured_at", ev.ID)
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate evidence")
}

func (s *SQLiteStore) SaveEvidence(ctx context.Context, evidence []model.Evidence) (int64, error) {
	if len(evidence) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq) + 1, 0) FROM evidence").Scan(&next); err != nil {
		return 0, eris.Wrap(err, "sqlite: next seq")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO evidence (seq, `+evidenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vendor_id = excluded.vendor_id,
			requirement_id = excluded.requirement_id,
			claim = excluded.claim,
			snippet = excluded.snippet,
			source_url = excluded.source_url,
			source_type = excluded.source_type,
			strength = excluded.strength,
			published_at = excluded.published_at,
			captured_at = excluded.captured_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for i, ev := range evidence {
		res, err := stmt.ExecContext(ctx, next+int64(i),
			ev.ID, ev.VendorID, ev.RequirementID, ev.Claim, ev.Snippet, ev.SourceURL,
			string(ev.SourceType), string(ev.Strength),
			ev.PublishedAt.UTC().Format(time.RFC3339Nano),
			ev.CapturedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert evidence %s", ev.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func (s *SQLiteStore) CountEvidence(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM evidence").Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count evidence")
	}
	return n, nil
}
