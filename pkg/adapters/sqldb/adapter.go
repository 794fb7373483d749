// Package sqldb serves entities from a SQLite file or an rqlite cluster.
// Both drivers share one schema: an entity table and a table of applied
// idempotency keys.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/sqlstore"
	"go.uber.org/zap"
)

// Driver selects the database engine.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverRQLite Driver = "rqlite"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "entities"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds configuration for the SQL adapter
type Config struct {
	ID     string
	Driver Driver
	// DSN is a file path for sqlite and a URL (http://host:5001) for rqlite
	DSN   string
	Table string
}

// Adapter implements provider.Adapter on a SQL database.
type Adapter struct {
	cfg    Config
	table  string
	logger *zap.Logger
	now    func() time.Time

	mu sync.RWMutex
	db *sql.DB
}

// New validates cfg and returns an inactive adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverRQLite {
		return nil, fmt.Errorf("unknown sql driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%s provider %s: dsn is required", cfg.Driver, cfg.ID)
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	return &Adapter{
		cfg:    cfg,
		table:  table,
		logger: logger.With(zap.String("provider", cfg.ID), zap.String("driver", string(cfg.Driver))),
		now:    time.Now,
	}, nil
}

func (a *Adapter) schema() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS %[1]s_applied (
	idempotency_key TEXT PRIMARY KEY,
	target_id       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	applied_at      TEXT NOT NULL
);`, a.table)
}

// Activate opens the database and creates the tables. Activating an active
// adapter is a no-op.
func (a *Adapter) Activate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return nil
	}

	var (
		db  *sql.DB
		err error
	)
	switch a.cfg.Driver {
	case DriverSQLite:
		db, err = sqlstore.OpenSQLite(ctx, a.cfg.DSN)
	case DriverRQLite:
		db, err = sqlstore.OpenRQLite(ctx, a.cfg.DSN)
	}
	if err != nil {
		return errors.FromBackend(string(a.cfg.Driver), err)
	}

	if err := sqlstore.ExecScript(ctx, db, a.schema()); err != nil {
		db.Close()
		return errors.FromBackend(string(a.cfg.Driver), fmt.Errorf("create schema: %w", err))
	}

	a.db = db
	a.logger.Info("SQL provider activated", zap.String("table", a.table))
	return nil
}

func (a *Adapter) Deactivate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *Adapter) handle() (*sql.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, errors.NewServiceError(string(a.cfg.Driver), fmt.Sprintf("provider %s is not active", a.cfg.ID), 0, nil)
	}
	return a.db, nil
}

func (a *Adapter) Probe(ctx context.Context) bool {
	db, err := a.handle()
	if err != nil {
		return false
	}
	var one int
	if err := db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		a.logger.Debug("Probe failed", zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) Execute(ctx context.Context, call provider.Call) (provider.Value, error) {
	db, err := a.handle()
	if err != nil {
		return provider.Value{}, err
	}

	var v provider.Value
	switch call.Kind {
	case provider.KindSave:
		v, err = a.save(ctx, db, call)
	case provider.KindLoad:
		v, err = a.load(ctx, db, call.TargetID)
	case provider.KindDelete:
		v, err = a.delete(ctx, db, call)
	case provider.KindSearch:
		v, err = a.search(ctx, db, call.TargetID)
	default:
		return provider.Value{}, errors.NewRejectedError(a.cfg.ID, fmt.Sprintf("unsupported operation %s", call.Kind), nil)
	}
	return v, errors.FromBackend(string(a.cfg.Driver), err)
}

// applied reports whether key was already recorded. Mutations are applied
// before their key is recorded, so a crash in between leads to a repeat of
// the same write rather than a lost one.
func (a *Adapter) applied(ctx context.Context, db *sql.DB, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var n int
	err := db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s_applied WHERE idempotency_key = ?`, a.table), key).Scan(&n)
	return n > 0, err
}

func (a *Adapter) record(ctx context.Context, db *sql.DB, call provider.Call) error {
	if call.IdempotencyKey == "" {
		return nil
	}
	_, err := db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s_applied (idempotency_key, target_id, kind, applied_at) VALUES (?, ?, ?, ?)`, a.table),
		call.IdempotencyKey, call.TargetID, string(call.Kind), a.now().UTC().Format(time.RFC3339Nano))
	return err
}

func (a *Adapter) save(ctx context.Context, db *sql.DB, call provider.Call) (provider.Value, error) {
	replay, err := a.applied(ctx, db, call.IdempotencyKey)
	if err != nil {
		return provider.Value{}, err
	}
	if replay {
		a.logger.Debug("Replayed save ignored", zap.String("target", call.TargetID), zap.String("key", call.IdempotencyKey))
		return a.load(ctx, db, call.TargetID)
	}

	now := a.now().UTC()
	_, err = db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, a.table),
		call.TargetID, base64.StdEncoding.EncodeToString(call.Payload), now.Format(time.RFC3339Nano))
	if err != nil {
		return provider.Value{}, err
	}
	if err := a.record(ctx, db, call); err != nil {
		return provider.Value{}, err
	}
	return provider.Value{Data: append([]byte(nil), call.Payload...), Timestamp: now}, nil
}

func (a *Adapter) load(ctx context.Context, db *sql.DB, id string) (provider.Value, error) {
	var encoded, updated string
	err := db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data, updated_at FROM %s WHERE id = ?`, a.table), id).Scan(&encoded, &updated)
	if stderrors.Is(err, sql.ErrNoRows) {
		return provider.Value{}, errors.NewNotFoundError("entity", id)
	}
	if err != nil {
		return provider.Value{}, err
	}
	return decodeRow(encoded, updated)
}

func decodeRow(encoded, updated string) (provider.Value, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return provider.Value{}, errors.NewInternalError("corrupt entity data", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return provider.Value{}, errors.NewInternalError("corrupt entity timestamp", err)
	}
	return provider.Value{Data: data, Timestamp: ts}, nil
}

func (a *Adapter) delete(ctx context.Context, db *sql.DB, call provider.Call) (provider.Value, error) {
	replay, err := a.applied(ctx, db, call.IdempotencyKey)
	if err != nil {
		return provider.Value{}, err
	}
	if replay {
		return provider.Value{}, nil
	}

	res, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, a.table), call.TargetID)
	if err != nil {
		return provider.Value{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return provider.Value{}, errors.NewNotFoundError("entity", call.TargetID)
	}
	return provider.Value{}, a.record(ctx, db, call)
}

func (a *Adapter) search(ctx context.Context, db *sql.DB, prefix string) (provider.Value, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, data, updated_at FROM %s WHERE id LIKE ? ESCAPE '\' ORDER BY id`, a.table),
		escapeLike(prefix)+"%")
	if err != nil {
		return provider.Value{}, err
	}
	defer rows.Close()

	var (
		matches []provider.Match
		latest  time.Time
	)
	for rows.Next() {
		var id, encoded, updated string
		if err := rows.Scan(&id, &encoded, &updated); err != nil {
			return provider.Value{}, err
		}
		v, err := decodeRow(encoded, updated)
		if err != nil {
			return provider.Value{}, err
		}
		if v.Timestamp.After(latest) {
			latest = v.Timestamp
		}
		matches = append(matches, provider.Match{ID: id, Data: v.Data})
	}
	if err := rows.Err(); err != nil {
		return provider.Value{}, err
	}
	return provider.Value{Data: provider.EncodeMatches(matches), Timestamp: latest}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
