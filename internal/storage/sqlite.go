package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazz-dev/livewatch/internal/policy"
)

const schema = `
CREATE TABLE IF NOT EXISTS ticks (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    tick_id      TEXT    NOT NULL UNIQUE,
    channel      TEXT    NOT NULL,
    live         INTEGER NOT NULL CHECK(live IN (0, 1)),
    label        TEXT    NOT NULL DEFAULT '',
    failures     INTEGER NOT NULL,
    max_failures INTEGER NOT NULL,
    tripped      INTEGER NOT NULL CHECK(tripped IN (0, 1)),
    reboot       TEXT    NOT NULL DEFAULT '',
    count        INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL,
    errors       TEXT    NOT NULL DEFAULT '',
    started_at   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticks_started_at ON ticks(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_ticks_tripped ON ticks(tripped);
`

// timeFormat is fixed-width so that started_at sorts as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const tickColumns = `id, tick_id, channel, live, label, failures, max_failures, tripped, reboot, count, duration_ms, errors, started_at`

// Tick is a stored tick result.
type Tick struct {
	ID          int64     `json:"id"`
	TickID      string    `json:"tick_id"`
	Channel     string    `json:"channel"`
	Live        bool      `json:"live"`
	Label       string    `json:"label"`
	Failures    int       `json:"failures"`
	MaxFailures int       `json:"max_failures"`
	Tripped     bool      `json:"tripped"`
	Reboot      string    `json:"reboot,omitempty"`
	Count       int       `json:"count"`
	DurationMs  int64     `json:"duration_ms"`
	Errors      string    `json:"errors,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertTick persists a tick result.
func (d *DB) InsertTick(ctx context.Context, r policy.TickResult) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO ticks (tick_id, channel, live, label, failures, max_failures, tripped, reboot, count, duration_ms, errors, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.Channel,
		boolInt(r.Live),
		r.Label,
		r.Failures,
		r.Max,
		boolInt(r.Tripped),
		string(r.Reboot),
		r.Count,
		r.Duration.Milliseconds(),
		strategyErrors(r),
		r.StartedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting tick %q: %w", r.ID, err)
	}
	return nil
}

// LatestTick returns the most recent tick, or nil if none.
func (d *DB) LatestTick(ctx context.Context) (*Tick, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+tickColumns+` FROM ticks ORDER BY started_at DESC, id DESC LIMIT 1`,
	)
	t, err := scanTick(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest tick: %w", err)
	}
	return t, nil
}

// History returns paginated tick history, newest first, plus the total count.
func (d *DB) History(ctx context.Context, limit, offset int) ([]Tick, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting ticks: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+tickColumns+` FROM ticks ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying tick history: %w", err)
	}
	defer rows.Close()

	ticks, err := scanTicks(rows)
	if err != nil {
		return nil, 0, err
	}
	return ticks, total, nil
}

// Trips returns the most recent ticks that triggered a reboot.
func (d *DB) Trips(ctx context.Context, limit int) ([]Tick, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+tickColumns+` FROM ticks WHERE tripped = 1 ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()
	return scanTicks(rows)
}

// LivePercent returns the percentage of live verdicts in the last N ticks.
func (d *DB) LivePercent(ctx context.Context, last int) (float64, error) {
	var total int
	var liveCount sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(live)
		FROM (
			SELECT live FROM ticks ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`, last).Scan(&total, &liveCount)
	if err != nil {
		return 0, fmt.Errorf("calculating live percentage: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(liveCount.Int64) / float64(total) * 100, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func strategyErrors(r policy.TickResult) string {
	var parts []string
	for _, s := range r.Strategies {
		if s.Error != "" {
			parts = append(parts, s.Strategy+": "+s.Error)
		}
	}
	return strings.Join(parts, "; ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTick(row scanner) (*Tick, error) {
	var t Tick
	var live, tripped int
	var startedAt string
	err := row.Scan(&t.ID, &t.TickID, &t.Channel, &live, &t.Label, &t.Failures, &t.MaxFailures,
		&tripped, &t.Reboot, &t.Count, &t.DurationMs, &t.Errors, &startedAt)
	if err != nil {
		return nil, err
	}
	t.Live = live == 1
	t.Tripped = tripped == 1
	ts, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at %q: %w", startedAt, err)
	}
	t.StartedAt = ts
	return &t, nil
}

func scanTicks(rows *sql.Rows) ([]Tick, error) {
	var ticks []Tick
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tick row: %w", err)
		}
		ticks = append(ticks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tick rows: %w", err)
	}
	return ticks, nil
}
