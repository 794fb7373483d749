package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/consensus"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/sqlstore"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLLog stores the journal in SQLite or rqlite. Rows are append-only and
// read back in insertion order.
type SQLLog struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenSQLite opens (or creates) the journal database at path.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLLog, error) {
	db, err := sqlstore.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return newSQLLog(ctx, db, logger)
}

// OpenRQLite opens the journal on the rqlite cluster at url.
func OpenRQLite(ctx context.Context, url string, logger *zap.Logger) (*SQLLog, error) {
	db, err := sqlstore.OpenRQLite(ctx, url)
	if err != nil {
		return nil, err
	}
	return newSQLLog(ctx, db, logger)
}

func newSQLLog(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLLog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	migrations, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := sqlstore.ApplyMigrations(ctx, db, migrations, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}

	return &SQLLog{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLLog) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores a conflict record. Appending the same record ID twice is a
// no-op.
func (s *SQLLog) Append(ctx context.Context, rec consensus.ConflictRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode conflict %s: %w", rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conflicts (id, target_id, rule, resolved_by, created_at, record) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TargetID, string(rec.Rule), rec.ResolvedBy, rec.CreatedAt.UTC().Format(time.RFC3339Nano), string(doc),
	)
	if err != nil {
		return fmt.Errorf("insert conflict %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLLog) ByTarget(ctx context.Context, targetID string) ([]consensus.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM conflicts WHERE target_id = ? ORDER BY seq`, targetID)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	var out []consensus.ConflictRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec consensus.ConflictRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode conflict: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLLog) AppendHealth(ctx context.Context, ev provider.HealthEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_events (provider, from_state, to_state, failures, cause, origin, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Provider, ev.From.String(), ev.To.String(), ev.ConsecutiveFailures, ev.Cause, ev.Origin, ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert health event: %w", err)
	}
	return nil
}

func (s *SQLLog) AppendLate(ctx context.Context, targetID string, kind provider.OperationKind, a provider.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO late_replies (target_id, kind, provider, outcome, code, message, duration_ms, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		targetID, string(kind), a.Provider, string(a.Outcome), a.Code, a.Message, a.Duration.Milliseconds(), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert late reply: %w", err)
	}
	return nil
}

func (s *SQLLog) HealthEvents(ctx context.Context, providerID string, limit int) ([]provider.HealthEvent, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, from_state, to_state, failures, cause, origin, at FROM health_events
		 WHERE ? = '' OR provider = ? ORDER BY seq DESC LIMIT ?`,
		providerID, providerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query health events: %w", err)
	}
	defer rows.Close()

	var out []provider.HealthEvent
	for rows.Next() {
		var (
			ev       provider.HealthEvent
			from, to string
			at       string
		)
		if err := rows.Scan(&ev.Provider, &from, &to, &ev.ConsecutiveFailures, &ev.Cause, &ev.Origin, &at); err != nil {
			return nil, err
		}
		if err := ev.From.UnmarshalText([]byte(from)); err != nil {
			return nil, err
		}
		if err := ev.To.UnmarshalText([]byte(to)); err != nil {
			return nil, err
		}
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("decode event time: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLLog) LateReplies(ctx context.Context, targetID string) ([]LateReply, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, provider, outcome, code, message, duration_ms, at FROM late_replies
		 WHERE target_id = ? ORDER BY seq`, targetID)
	if err != nil {
		return nil, fmt.Errorf("query late replies: %w", err)
	}
	defer rows.Close()

	var out []LateReply
	for rows.Next() {
		var (
			r                 LateReply
			kind, outcome, at string
			durationMs        int64
		)
		if err := rows.Scan(&kind, &r.Attempt.Provider, &outcome, &r.Attempt.Code, &r.Attempt.Message, &durationMs, &at); err != nil {
			return nil, err
		}
		r.TargetID = targetID
		r.Kind = provider.OperationKind(kind)
		r.Attempt.Outcome = provider.Outcome(outcome)
		r.Attempt.Duration = time.Duration(durationMs) * time.Millisecond
		r.Attempt.Late = true
		if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("decode reply time: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
