// Package ledger is the durable, append-only store of usage records.
//
// DESIGN: SQLite via database/sql with a single connection
// (SetMaxOpenConns(1)) so all writers serialize through one writer; readers
// observe committed snapshots only. WAL journaling with synchronous=FULL
// makes Append durable before it returns. Records are immutable once
// written; the only destructive operation is Clear.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/AbdullahTarakji/tokencost/internal/pricing"
)

// Record sources.
const (
	SourceManual   = "manual"
	SourceProxy    = "proxy"
	SourceEstimate = "estimate" // never included in spend aggregates
)

// Budget periods, shared with the budget package.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

const busyTimeout = 5 * time.Second

// Record is one metered API exchange.
type Record struct {
	ID             int64
	Timestamp      time.Time // UTC
	Provider       string
	Model          string // resolved canonical id (or pricing.UnknownModelID)
	RequestedModel string // model name as reported on the wire
	InputTokens    int64
	OutputTokens   int64

	// Anthropic prompt-cache counts. Already reflected in Cost; kept so
	// the raw record preserves the provider's full token breakdown.
	CacheCreationTokens int64
	CacheReadTokens     int64

	Cost       pricing.Amount
	Project    string
	Source     string
	Unresolved bool // pricing resolution failed; cost is zero-confidence
}

// GroupBy selects the aggregation dimension.
type GroupBy string

const (
	GroupNone     GroupBy = "none"
	GroupModel    GroupBy = "model"
	GroupProject  GroupBy = "project"
	GroupProvider GroupBy = "provider"
)

// AggregateRow is one line of an aggregation result.
type AggregateRow struct {
	Key          string
	TotalCost    pricing.Amount
	Calls        int64
	InputTokens  int64
	OutputTokens int64
}

// DailyCost is one day of the cost trend.
type DailyCost struct {
	Date      string // YYYY-MM-DD (UTC)
	TotalCost pricing.Amount
	Calls     int64
}

// Filter narrows a Records query. Zero values mean "no constraint".
type Filter struct {
	Since    time.Time
	Until    time.Time
	Provider string
	Model    string
	Project  string
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB

	appendStmt *sql.Stmt
}

// Open opens (and if needed creates) the ledger database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	// modernc.org/sqlite takes pragmas as _pragma=name(value) pairs; the
	// mattn-style _journal_mode keys are silently ignored by this driver.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(FULL)",
		path, int(busyTimeout.Milliseconds()))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// SQLite only supports a single writer; one connection also gives
	// readers a consistent view without extra locking here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize ledger schema: %w", err)
	}
	if s.appendStmt, err = db.Prepare(`
		INSERT INTO api_calls
			(timestamp, provider, model, requested_model, input_tokens, output_tokens,
			 cache_creation_tokens, cache_read_tokens, cost, project, source, unresolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare append: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS api_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		requested_model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		cost INTEGER NOT NULL,
		project TEXT NOT NULL DEFAULT 'default',
		source TEXT NOT NULL DEFAULT 'manual',
		unresolved INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_api_calls_timestamp ON api_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_api_calls_model ON api_calls(model);
	CREATE INDEX IF NOT EXISTS idx_api_calls_project ON api_calls(project);

	CREATE TABLE IF NOT EXISTS budget_limits (
		period TEXT PRIMARY KEY,
		limit_nano INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append writes a record and returns its id. The write is committed and
// durable before Append returns. Timestamps are normalized to UTC; a zero
// timestamp becomes the current time.
func (s *Store) Append(ctx context.Context, r Record) (int64, error) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	project := r.Project
	if project == "" {
		project = "default"
	}
	source := r.Source
	if source == "" {
		source = SourceManual
	}

	res, err := s.appendStmt.ExecContext(ctx,
		ts.UTC().UnixNano(), r.Provider, r.Model, r.RequestedModel,
		r.InputTokens, r.OutputTokens, r.CacheCreationTokens, r.CacheReadTokens,
		int64(r.Cost), project, source, boolToInt(r.Unresolved))
	if err != nil {
		return 0, fmt.Errorf("ledger append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger append id: %w", err)
	}
	return id, nil
}

// Aggregate sums spend over [since, until), grouped by the requested
// dimension, sorted by total cost descending then key ascending. Estimate
// records never count toward spend.
func (s *Store) Aggregate(ctx context.Context, since, until time.Time, groupBy GroupBy) ([]AggregateRow, error) {
	keyExpr := "''"
	switch groupBy {
	case GroupModel:
		keyExpr = "model"
	case GroupProject:
		keyExpr = "project"
	case GroupProvider:
		keyExpr = "provider"
	case GroupNone, "":
	default:
		return nil, fmt.Errorf("unknown group_by %q", groupBy)
	}

	query := fmt.Sprintf(`
		SELECT %s AS group_key,
			COALESCE(SUM(cost), 0),
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0)
		FROM api_calls
		WHERE source != ?`, keyExpr)
	args := []any{SourceEstimate}
	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC().UnixNano())
	}
	if !until.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, until.UTC().UnixNano())
	}
	query += " GROUP BY group_key ORDER BY 2 DESC, 1 ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger aggregate: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AggregateRow
	for rows.Next() {
		var row AggregateRow
		var cost int64
		if err := rows.Scan(&row.Key, &cost, &row.Calls, &row.InputTokens, &row.OutputTokens); err != nil {
			return nil, fmt.Errorf("ledger aggregate scan: %w", err)
		}
		row.TotalCost = pricing.Amount(cost)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger aggregate rows: %w", err)
	}

	// GROUP BY over an empty table yields no rows; callers expect a
	// zero-valued summary line for the ungrouped case.
	if len(out) == 0 && (groupBy == GroupNone || groupBy == "") {
		out = []AggregateRow{{}}
	}
	return out, nil
}

// Records returns raw records matching the filter, newest first.
func (s *Store) Records(ctx context.Context, f Filter) ([]Record, error) {
	query := "SELECT id, timestamp, provider, model, requested_model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost, project, source, unresolved FROM api_calls WHERE 1=1"
	var args []any
	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC().UnixNano())
	}
	if !f.Until.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, f.Until.UTC().UnixNano())
	}
	if f.Provider != "" {
		query += " AND provider = ?"
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		query += " AND model = ?"
		args = append(args, f.Model)
	}
	if f.Project != "" {
		query += " AND project = ?"
		args = append(args, f.Project)
	}
	query += " ORDER BY timestamp DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		var ts, cost int64
		var unresolved int
		if err := rows.Scan(&r.ID, &ts, &r.Provider, &r.Model, &r.RequestedModel,
			&r.InputTokens, &r.OutputTokens, &r.CacheCreationTokens, &r.CacheReadTokens,
			&cost, &r.Project, &r.Source, &unresolved); err != nil {
			return nil, fmt.Errorf("ledger records scan: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Cost = pricing.Amount(cost)
		r.Unresolved = unresolved != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// DailyCosts returns the per-day cost trend over the last `days` days.
func (s *Store) DailyCosts(ctx context.Context, days int) ([]DailyCost, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(timestamp / 1000000000, 'unixepoch') AS day,
			COALESCE(SUM(cost), 0), COUNT(*)
		FROM api_calls
		WHERE timestamp >= ? AND source != ?
		GROUP BY day ORDER BY day`,
		since.UnixNano(), SourceEstimate)
	if err != nil {
		return nil, fmt.Errorf("ledger daily costs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DailyCost
	for rows.Next() {
		var d DailyCost
		var cost int64
		if err := rows.Scan(&d.Date, &cost, &d.Calls); err != nil {
			return nil, fmt.Errorf("ledger daily costs scan: %w", err)
		}
		d.TotalCost = pricing.Amount(cost)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Clear wipes all usage records and returns how many were removed. Budget
// limits survive a clear.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM api_calls")
	if err != nil {
		return 0, fmt.Errorf("ledger clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger clear count: %w", err)
	}
	return n, nil
}

// SetBudgetLimit sets the active limit for a period, replacing any prior one.
func (s *Store) SetBudgetLimit(ctx context.Context, period string, limit pricing.Amount) error {
	if err := validPeriod(period); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_limits (period, limit_nano) VALUES (?, ?)
		ON CONFLICT (period) DO UPDATE SET limit_nano = excluded.limit_nano`,
		period, int64(limit))
	if err != nil {
		return fmt.Errorf("set budget limit: %w", err)
	}
	return nil
}

// BudgetLimit returns the active limit for a period. ok is false when no
// limit is configured.
func (s *Store) BudgetLimit(ctx context.Context, period string) (pricing.Amount, bool, error) {
	if err := validPeriod(period); err != nil {
		return 0, false, err
	}
	var limit int64
	err := s.db.QueryRowContext(ctx,
		"SELECT limit_nano FROM budget_limits WHERE period = ?", period).Scan(&limit)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get budget limit: %w", err)
	}
	return pricing.Amount(limit), true, nil
}

func validPeriod(period string) error {
	switch period {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return nil
	}
	return fmt.Errorf("unknown budget period %q", period)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.appendStmt != nil {
		_ = s.appendStmt.Close()
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
