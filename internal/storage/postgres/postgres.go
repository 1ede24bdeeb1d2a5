package postgres

import (
	"context"
	"fmt"

	"github.com/FranksOps/trawl/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
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
	trigger_date_time TIMESTAMP NOT NULL,
	start_date_time TIMESTAMP NOT NULL,
	end_date_time TIMESTAMP NOT NULL,
	status TEXT NOT NULL,
	nb_rows INTEGER NOT NULL,
	error_message VARCHAR(2000)
);

CREATE TABLE IF NOT EXISTS tweets (
	run_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	trigger_date_time TIMESTAMP NOT NULL,
	execution_date_time TIMESTAMP NOT NULL,
	published_time TIMESTAMP NOT NULL,
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

var recordColumns = []string{
	"run_id", "source_id", "trigger_date_time", "execution_date_time", "published_time",
	"tweet_id", "tweet_reply_id", "keywords", "tweet", "nb_of_retweets", "nb_of_likes",
	"media_links", "language",
}

// New creates a new Postgres-backed storage.Backend. A non-empty password overrides
// whatever the DSN carries, so the DSN can live in config while the password comes
// from the secret store.
func New(ctx context.Context, dsn, password string) (storage.Backend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %w", storage.ErrPersistence, err)
	}
	if password != "" {
		cfg.ConnConfig.Password = password
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", storage.ErrPersistence, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", storage.ErrPersistence, err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: create schema: %w", storage.ErrPersistence, err)
	}
	return nil
}

func (b *postgresBackend) PutParameter(ctx context.Context, row storage.ParameterRow) error {
	query := `
	INSERT INTO sources_parameters (source_id, parameter_name, parameter_value)
	VALUES ($1, $2, $3)
	ON CONFLICT (source_id, parameter_name) DO UPDATE SET parameter_value = EXCLUDED.parameter_value
	`
	if _, err := b.pool.Exec(ctx, query, row.SourceID, row.Name, row.Value); err != nil {
		return fmt.Errorf("%w: put parameter: %w", storage.ErrPersistence, err)
	}
	return nil
}

func (b *postgresBackend) ParameterRows(ctx context.Context, sourceID string) ([]storage.ParameterRow, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT source_id, parameter_name, parameter_value FROM sources_parameters WHERE source_id = $1`,
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

func (b *postgresBackend) InsertRun(ctx context.Context, run *storage.Run) error {
	query := `
	INSERT INTO extraction_results (
		run_id, source_id, trigger_date_time, start_date_time, end_date_time, status, nb_rows, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := b.pool.Exec(ctx, query,
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

func (b *postgresBackend) FinalizeRun(ctx context.Context, runID string, fin storage.Finalization) error {
	query := `
	UPDATE extraction_results
	SET status = $1, end_date_time = $2, nb_rows = $3, error_message = $4
	WHERE run_id = $5 AND status = $6
	`

	tag, err := b.pool.Exec(ctx, query,
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
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w: %s", storage.ErrPersistence, storage.ErrRunNotOpen, runID)
	}
	return nil
}

func (b *postgresBackend) QueryRuns(ctx context.Context, filter storage.RunFilter) ([]*storage.Run, error) {
	query := `SELECT run_id, source_id, trigger_date_time, start_date_time, end_date_time, status, nb_rows, error_message FROM extraction_results WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.SourceID != "" {
		query += fmt.Sprintf(` AND source_id = $%d`, paramCount)
		args = append(args, filter.SourceID)
		paramCount++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, paramCount)
		args = append(args, string(filter.Status))
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND start_date_time >= $%d`, paramCount)
		args = append(args, filter.Since.UTC())
		paramCount++
	}

	query += ` ORDER BY start_date_time DESC, run_id DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
	}

	rows, err := b.pool.Query(ctx, query, args...)
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

// AppendRecords bulk-loads the batch with COPY inside one transaction, so either every row lands or none.
func (b *postgresBackend) AppendRecords(ctx context.Context, records []*storage.Record) error {
	if len(records) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"tweets"},
			recordColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{
					r.RunID, r.SourceID, r.TriggerTime, r.ExecutionTime, r.PublishedTime,
					r.ItemID, r.ParentItemID, r.Keywords, r.Text, r.ShareCount, r.FavoriteCount,
					r.MediaLinks, r.Language,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy records: %w", err)
		}
		if int(n) != len(records) {
			return fmt.Errorf("copied %d of %d records", n, len(records))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}
	return nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
