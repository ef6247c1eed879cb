package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/croneye/croneye/internal/jobrun"
)

// PostgresStore implements RunStore backed by PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgresStore connects to the database at dsn and applies migrations.
func NewPostgresStore(dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(db, "postgres", "migrations/postgres", logger); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// SaveJobRun upserts the run record by ID.
func (s *PostgresStore) SaveJobRun(ctx context.Context, run *jobrun.JobRun) error {
	if err := run.Validate(); err != nil {
		return err
	}

	var data any
	if len(run.Data) > 0 {
		raw, err := json.Marshal(run.Data)
		if err != nil {
			return fmt.Errorf("encode job data: %w", err)
		}
		data = string(raw)
	}

	var runTimeMs sql.NullInt64
	if run.RunTimeMs != nil {
		runTimeMs = sql.NullInt64{Int64: *run.RunTimeMs, Valid: true}
	}
	var endTime sql.NullTime
	if run.EndTime != nil {
		endTime = sql.NullTime{Time: run.EndTime.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (
			id, job_name, job_group, trigger_name, trigger_group, status,
			scheduled_time, start_time, end_time, run_time_ms, error_message,
			result, retry_count, data, instance_name, priority, category,
			description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			run_time_ms = EXCLUDED.run_time_ms,
			error_message = EXCLUDED.error_message,
			result = EXCLUDED.result,
			retry_count = EXCLUDED.retry_count`,
		run.ID,
		run.JobName,
		run.JobGroup,
		nullString(run.TriggerName),
		nullString(run.TriggerGroup),
		string(run.Status),
		run.ScheduledTime.UTC(),
		run.StartTime.UTC(),
		endTime,
		runTimeMs,
		nullString(run.ErrorMessage),
		nullString(run.Result),
		run.RetryCount,
		data,
		nullString(run.InstanceName),
		run.Priority,
		nullString(run.Category),
		nullString(run.Description),
	)
	return err
}

func pgFilterConds(f Filter) sq.And {
	var conds sq.And
	if f.ID != "" {
		conds = append(conds, sq.Eq{"id": f.ID})
	}
	if f.JobName != "" {
		conds = append(conds, sq.Eq{"job_name": f.JobName})
	}
	if f.JobGroup != "" {
		conds = append(conds, sq.Eq{"job_group": f.JobGroup})
	}
	if f.From != nil {
		conds = append(conds, sq.GtOrEq{"start_time": f.From.UTC()})
	}
	if f.To != nil {
		conds = append(conds, sq.LtOrEq{"start_time": f.To.UTC()})
	}
	if f.Status != "" {
		conds = append(conds, sq.Eq{"status": string(f.Status)})
	}
	if f.Priority != nil {
		conds = append(conds, sq.Eq{"priority": *f.Priority})
	}
	if f.InstanceName != "" {
		conds = append(conds, sq.Eq{"instance_name": f.InstanceName})
	}
	if f.ResultContains != "" {
		conds = append(conds, sq.Like{"result": "%" + f.ResultContains + "%"})
	}
	return conds
}

// ListJobRuns returns runs matching the filter, most recent first, ties
// broken by ID descending.
func (s *PostgresStore) ListJobRuns(ctx context.Context, f Filter) ([]*jobrun.JobRun, error) {
	builder := psql.Select(runColumns).
		From("job_runs").
		OrderBy("start_time DESC", "id DESC")
	if conds := pgFilterConds(f); len(conds) > 0 {
		builder = builder.Where(conds)
	}
	if f.Take > 0 {
		builder = builder.Limit(uint64(f.Take))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build run query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*jobrun.JobRun
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) scanRun(row interface{ Scan(...any) error }) (*jobrun.JobRun, error) {
	var r jobrun.JobRun
	var triggerName, triggerGroup, errorMessage, result sql.NullString
	var data, instanceName, category, description sql.NullString
	var endTime sql.NullTime
	var createdAt time.Time
	var runTimeMs sql.NullInt64
	var status string

	err := row.Scan(
		&r.ID,
		&r.JobName,
		&r.JobGroup,
		&triggerName,
		&triggerGroup,
		&status,
		&r.ScheduledTime,
		&r.StartTime,
		&endTime,
		&runTimeMs,
		&errorMessage,
		&result,
		&r.RetryCount,
		&data,
		&instanceName,
		&r.Priority,
		&category,
		&description,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = jobrun.RunStatus(status)
	if endTime.Valid {
		t := endTime.Time
		r.EndTime = &t
	}
	if runTimeMs.Valid {
		v := runTimeMs.Int64
		r.RunTimeMs = &v
	}
	r.TriggerName = triggerName.String
	r.TriggerGroup = triggerGroup.String
	r.ErrorMessage = errorMessage.String
	r.Result = result.String
	r.InstanceName = instanceName.String
	r.Category = category.String
	r.Description = description.String
	if r.Data, err = decodeData(data); err != nil {
		return nil, err
	}

	return &r, nil
}

// GetJobRunStats computes aggregate statistics for one job entirely inside
// PostgreSQL.
func (s *PostgresStore) GetJobRunStats(ctx context.Context, key jobrun.JobKey, from, to *time.Time) (*jobrun.JobRunStats, error) {
	builder := psql.Select(
		"COUNT(*) AS total_runs",
		"COUNT(*) FILTER (WHERE status = 'Success') AS success_count",
		"COUNT(*) FILTER (WHERE status = 'Failed') AS failure_count",
		"AVG(run_time_ms) AS avg_run_time_ms",
		"MAX(run_time_ms) AS max_run_time_ms",
		"MIN(run_time_ms) AS min_run_time_ms",
	).
		From("job_runs").
		Where(pgFilterConds(Filter{
			JobName:  key.Name,
			JobGroup: key.Group,
			From:     from,
			To:       to,
		}))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stats query: %w", err)
	}

	var stats jobrun.JobRunStats
	var maxMs, minMs sql.NullInt64
	var avgMs sql.NullFloat64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalRuns,
		&stats.SuccessCount,
		&stats.FailureCount,
		&avgMs,
		&maxMs,
		&minMs,
	)
	if err != nil {
		return nil, err
	}

	stats.AvgRunTimeMs = avgMs.Float64
	stats.MaxRunTimeMs = maxMs.Int64
	stats.MinRunTimeMs = minMs.Int64
	return &stats, nil
}

// PurgeJobRuns deletes the job's run records started before the cutoff.
func (s *PostgresStore) PurgeJobRuns(ctx context.Context, key jobrun.JobKey, olderThan time.Time) (int64, error) {
	query, args, err := psql.Delete("job_runs").
		Where(sq.Eq{"job_name": key.Name, "job_group": key.Group}).
		Where(sq.Lt{"start_time": olderThan.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
