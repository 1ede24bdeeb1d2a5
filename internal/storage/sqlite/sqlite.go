package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/FranksOps/trawl/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sources_parameters (
	source_id TEXT NOT NULL,
	parameter_name TEXT NOT NULL,
	parameter_value TEXT NOT NULL,
	PRIMARY KEY (source_id, parameter_name)
);

CREATE TABLE IF NOT EXISTS extraction_results (
	run_id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	trigger_date_time DATETIME NOT NULL,
	start_date_time DATETIME NOT NULL,
	end_date_time DATETIME NOT NULL,
	status TEXT NOT NULL,
	nb_rows INTEGER NOT NULL,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS tweets (
	run_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	trigger_date_time DATETIME NOT NULL,
	execution_date_time DATETIME NOT NULL,
	published_time DATETIME NOT NULL,
	tweet_id TEXT NOT NULL,
	tweet_reply_id TEXT,
	keywords TEXT NOT NULL,
	tweet TEXT NOT NULL,
	nb_of_retweets INTEGER NOT NULL,
	nb_of_likes INTEGER NOT NULL,
	media_links TEXT NOT NULL,
	language TEXT NOT NULL
);
`

var pragmas = []string{
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", storage.ErrPersistence, err)
	}
	// Pragmas are per connection; a single connection keeps them in force and
	// serializes writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s: %w", storage.ErrPersistence, p, err)
		}
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create schema: %w", storage.ErrPersistence, err)
	}
	return nil
}

func (b *sqliteBackend) PutParameter(ctx context.Context, row storage.ParameterRow) error {
	query := `
	INSERT INTO sources_parameters (source_id, parameter_name, parameter_value)
	VALUES (?, ?, ?)
	ON CONFLICT (source_id, parameter_name) DO UPDATE SET parameter_value = excluded.parameter_value
	`
	if _, err := b.db.ExecContext(ctx, query, row.SourceID, row.Name, row.Value); err != nil {
		return fmt.Errorf("%w: put parameter: %w", storage.ErrPersistence, err)
	}
	return nil
}

func (b *sqliteBackend) ParameterRows(ctx context.Context, sourceID string) ([]storage.ParameterRow, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT source_id, parameter_name, parameter_value FROM sources_parameters WHERE source_id = ?`,
		sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: query parameters: %w", storage.ErrPersistence, err)
	}
	defer rows.Close()

	var out []storage.ParameterRow
	for rows.Next() {
		var r storage.ParameterRow
		if err := rows.Scan(&r.SourceID, &r.Name, &r.Value); err != nil {
			return nil, fmt.Errorf("%w: scan parameter: %w", storage.ErrPersistence, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}
	return out, nil
}

func (b *sqliteBackend) InsertRun(ctx context.Context, run *storage.Run) error {
	query := `
	INSERT INTO extraction_results (
		run_id, source_id, trigger_date_time, start_date_time, end_date_time, status, nb_rows, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := b.db.ExecContext(ctx, query,
		run.ID,
		run.SourceID,
		run.TriggerTime,
		run.StartTime,
		run.EndTime,
		string(run.Status),
		run.RowCount,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("%w: insert run: %w", storage.ErrPersistence, err)
	}
	return nil
}

func (b *sqliteBackend) FinalizeRun(ctx context.Context, runID string, fin storage.Finalization) error {
	query := `
	UPDATE extraction_results
	SET status = ?, end_date_time = ?, nb_rows = ?, error_message = ?
	WHERE run_id = ? AND status = ?
	`

	res, err := b.db.ExecContext(ctx, query,
		string(fin.Status),
		fin.EndTime,
		fin.RowCount,
		fin.ErrorMessage,
		runID,
		string(storage.StatusWIP),
	)
	if err != nil {
		return fmt.Errorf("%w: finalize run: %w", storage.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: finalize run: %w", storage.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %w: %s", storage.ErrPersistence, storage.ErrRunNotOpen, runID)
	}
	return nil
}

func (b *sqliteBackend) QueryRuns(ctx context.Context, filter storage.RunFilter) ([]*storage.Run, error) {
	query := `SELECT run_id, source_id, trigger_date_time, start_date_time, end_date_time, status, nb_rows, error_message FROM extraction_results WHERE 1=1`
	args := []any{}

	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		// stored times are UTC text; the bound must share their offset to compare
		query += ` AND start_date_time >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY start_date_time DESC, run_id DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query runs: %w", storage.ErrPersistence, err)
	}
	defer rows.Close()

	var results []*storage.Run
	for rows.Next() {
		var r storage.Run
		var status string
		if err := rows.Scan(
			&r.ID, &r.SourceID, &r.TriggerTime, &r.StartTime, &r.EndTime, &status, &r.RowCount, &r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("%w: scan run: %w", storage.ErrPersistence, err)
		}
		r.Status = storage.Status(status)
		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}

	return results, nil
}

// AppendRecords inserts the batch inside one transaction so a failure leaves no rows behind.
func (b *sqliteBackend) AppendRecords(ctx context.Context, records []*storage.Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", storage.ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO tweets (
		run_id, source_id, trigger_date_time, execution_date_time, published_time, tweet_id, tweet_reply_id,
		keywords, tweet, nb_of_retweets, nb_of_likes, media_links, language
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", storage.ErrPersistence, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx,
			r.RunID, r.SourceID, r.TriggerTime, r.ExecutionTime, r.PublishedTime,
			r.ItemID, r.ParentItemID, r.Keywords, r.Text, r.ShareCount, r.FavoriteCount,
			r.MediaLinks, r.Language,
		); err != nil {
			return fmt.Errorf("%w: insert record %s: %w", storage.ErrPersistence, r.ItemID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", storage.ErrPersistence, err)
	}
	return nil
}

// CountRecords returns the number of records appended by one run.
func CountRecords(ctx context.Context, b storage.Backend, runID string) (int, error) {
	sb, ok := b.(*sqliteBackend)
	if !ok {
		return 0, fmt.Errorf("CountRecords: not a sqlite backend")
	}
	var n int
	if err := sb.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tweets WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count records: %w", storage.ErrPersistence, err)
	}
	return n, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
