package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/croneye/croneye/internal/jobrun"
)

// timeFormat is a fixed-width UTC encoding so stored timestamps compare
// lexicographically the same way they compare chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, job_name, job_group, trigger_name, trigger_group, status,
	scheduled_time, start_time, end_time, run_time_ms, error_message, result,
	retry_count, data, instance_name, priority, category, description, created_at`

// SQLiteStore implements RunStore backed by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens the SQLite database at dbPath and applies migrations.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db, "sqlite3", "migrations/sqlite", logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func encodeData(m jobrun.DataMap) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode job data: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeData(ns sql.NullString) (jobrun.DataMap, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m jobrun.DataMap
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("decode job data: %w", err)
	}
	return m, nil
}

// SaveJobRun inserts a new run record or updates the existing record with
// the same ID. The two write phases of one firing share an ID, so the
// completion write lands on the started row instead of creating a second.
func (s *SQLiteStore) SaveJobRun(ctx context.Context, run *jobrun.JobRun) error {
	if err := run.Validate(); err != nil {
		return err
	}

	data, err := encodeData(run.Data)
	if err != nil {
		return err
	}

	var runTimeMs sql.NullInt64
	if run.RunTimeMs != nil {
		runTimeMs = sql.NullInt64{Int64: *run.RunTimeMs, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			end_time = excluded.end_time,
			run_time_ms = excluded.run_time_ms,
			error_message = excluded.error_message,
			result = excluded.result,
			retry_count = excluded.retry_count`,
		run.ID,
		run.JobName,
		run.JobGroup,
		nullString(run.TriggerName),
		nullString(run.TriggerGroup),
		string(run.Status),
		formatTime(run.ScheduledTime),
		formatTime(run.StartTime),
		formatTimePtr(run.EndTime),
		runTimeMs,
		nullString(run.ErrorMessage),
		nullString(run.Result),
		run.RetryCount,
		data,
		nullString(run.InstanceName),
		run.Priority,
		nullString(run.Category),
		nullString(run.Description),
		formatTime(time.Now()),
	)
	return err
}

func (s *SQLiteStore) scanRun(row interface{ Scan(...any) error }) (*jobrun.JobRun, error) {
	var r jobrun.JobRun
	var scheduledTime, startTime, createdAt string
	var triggerName, triggerGroup, endTime, errorMessage, result sql.NullString
	var data, instanceName, category, description sql.NullString
	var runTimeMs sql.NullInt64
	var status string

	err := row.Scan(
		&r.ID,
		&r.JobName,
		&r.JobGroup,
		&triggerName,
		&triggerGroup,
		&status,
		&scheduledTime,
		&startTime,
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
	if r.ScheduledTime, err = parseTime(scheduledTime); err != nil {
		return nil, fmt.Errorf("parse scheduled_time: %w", err)
	}
	if r.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if endTime.Valid {
		t, err := parseTime(endTime.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_time: %w", err)
		}
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

// filterConds translates a Filter into squirrel conditions. SQLite stores
// timestamps as fixed-width text, so range bounds are formatted strings.
func sqliteFilterConds(f Filter) sq.And {
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
		conds = append(conds, sq.GtOrEq{"start_time": formatTime(*f.From)})
	}
	if f.To != nil {
		conds = append(conds, sq.LtOrEq{"start_time": formatTime(*f.To)})
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

// ListJobRuns returns runs matching the filter, most recent first. Equal
// start times are tie-broken by ID descending.
func (s *SQLiteStore) ListJobRuns(ctx context.Context, f Filter) ([]*jobrun.JobRun, error) {
	builder := sq.Select(runColumns).
		From("job_runs").
		OrderBy("start_time DESC", "id DESC")
	if conds := sqliteFilterConds(f); len(conds) > 0 {
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

// GetJobRunStats computes aggregate statistics for one job entirely inside
// SQLite.
func (s *SQLiteStore) GetJobRunStats(ctx context.Context, key jobrun.JobKey, from, to *time.Time) (*jobrun.JobRunStats, error) {
	builder := sq.Select(
		"COUNT(*) AS total_runs",
		"SUM(CASE WHEN status = 'Success' THEN 1 ELSE 0 END) AS success_count",
		"SUM(CASE WHEN status = 'Failed' THEN 1 ELSE 0 END) AS failure_count",
		"AVG(run_time_ms) AS avg_run_time_ms",
		"MAX(run_time_ms) AS max_run_time_ms",
		"MIN(run_time_ms) AS min_run_time_ms",
	).
		From("job_runs").
		Where(sqliteFilterConds(Filter{
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
	var successCount, failureCount, maxMs, minMs sql.NullInt64
	var avgMs sql.NullFloat64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalRuns,
		&successCount,
		&failureCount,
		&avgMs,
		&maxMs,
		&minMs,
	)
	if err != nil {
		return nil, err
	}

	stats.SuccessCount = successCount.Int64
	stats.FailureCount = failureCount.Int64
	stats.AvgRunTimeMs = avgMs.Float64
	stats.MaxRunTimeMs = maxMs.Int64
	stats.MinRunTimeMs = minMs.Int64
	return &stats, nil
}

// PurgeJobRuns deletes the job's run records started before the cutoff.
func (s *SQLiteStore) PurgeJobRuns(ctx context.Context, key jobrun.JobKey, olderThan time.Time) (int64, error) {
	query, args, err := sq.Delete("job_runs").
		Where(sq.Eq{"job_name": key.Name, "job_group": key.Group}).
		Where(sq.Lt{"start_time": formatTime(olderThan)}).
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
