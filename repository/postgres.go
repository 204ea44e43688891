package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mediaconv/database"
	"mediaconv/models"
)

const jobColumns = `id, status, source_name, format, quality,
	input_bucket, input_key, input_size,
	output_bucket, output_key, output_size,
	preview_bucket, preview_key, preview_size,
	error_message, created_at, updated_at, downloaded_at, expires_at`

// PostgresStore is the durable job store. Transitions go through guarded
// updates so concurrent instances converge instead of clobbering each
// other; expired rows read as absent.
type PostgresStore struct {
	db  *database.DB
	now func() time.Time
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) Put(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, status, source_name, format, quality,
			input_bucket, input_key, input_size,
			error_message, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.Pool.Exec(ctx, query,
		job.ID, string(job.Status), job.SourceName, job.Format, job.Quality,
		job.Input.Bucket, job.Input.Key, job.Input.Size,
		job.ErrorMessage, job.CreatedAt, job.UpdatedAt, job.ExpiresAt)
	if err != nil {
		return s.wrap("insert job", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND expires_at > $2`

	job, err := scanJob(s.db.Pool.QueryRow(ctx, query, id, s.now().Unix()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrJobNotFound
		}
		return nil, s.wrap("get job", err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, from []models.JobStatus, upd StatusUpdate) (*models.Job, bool, error) {
	query := `
		UPDATE jobs SET
			status = $1,
			output_bucket = COALESCE($2, output_bucket),
			output_key = COALESCE($3, output_key),
			output_size = COALESCE($4, output_size),
			preview_bucket = COALESCE($5, preview_bucket),
			preview_key = COALESCE($6, preview_key),
			preview_size = COALESCE($7, preview_size),
			error_message = $8,
			updated_at = NOW()
		WHERE id = $9 AND status = ANY($10) AND expires_at > $11
		RETURNING ` + jobColumns

	var outBucket, outKey *string
	var outSize *int64
	if upd.Output != nil {
		outBucket, outKey, outSize = &upd.Output.Bucket, &upd.Output.Key, &upd.Output.Size
	}
	var prevBucket, prevKey *string
	var prevSize *int64
	if upd.Preview != nil {
		prevBucket, prevKey, prevSize = &upd.Preview.Bucket, &upd.Preview.Key, &upd.Preview.Size
	}

	job, err := scanJob(s.db.Pool.QueryRow(ctx, query,
		string(upd.Status),
		outBucket, outKey, outSize,
		prevBucket, prevKey, prevSize,
		upd.ErrorMessage,
		id, statusStrings(from), s.now().Unix()))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, s.wrap("update job status", err)
	}

	// The guard did not match: the record is absent, expired, or already in
	// a state outside from. Re-read so the caller can tell which.
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *PostgresStore) MarkDownloaded(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE jobs SET downloaded_at = COALESCE(downloaded_at, $2)
		WHERE id = $1 AND expires_at > $3`

	tag, err := s.db.Pool.Exec(ctx, query, id, at, s.now().Unix())
	if err != nil {
		return s.wrap("mark downloaded", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) ScanExpired(ctx context.Context, cutoff int64, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`

	rows, err := s.db.Pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, s.wrap("scan expired jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) ScanOrphans(ctx context.Context, terminalBefore, abandonedBefore time.Time, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE downloaded_at IS NULL
		  AND expires_at > $1
		  AND ((status = ANY($2) AND updated_at <= $3) OR created_at <= $4)
		ORDER BY created_at ASC
		LIMIT $5`

	terminal := statusStrings([]models.JobStatus{models.StatusCompleted, models.StatusFailed})
	rows, err := s.db.Pool.Query(ctx, query, s.now().Unix(), terminal, terminalBefore, abandonedBefore, limit)
	if err != nil {
		return nil, s.wrap("scan orphaned jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return s.wrap("delete job", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.JobStats, error) {
	query := `SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM jobs
		WHERE status = ANY($1) AND expires_at > $2`

	active := statusStrings([]models.JobStatus{models.StatusCreated, models.StatusProcessing})

	var count int
	var oldest, newest *time.Time
	err := s.db.Pool.QueryRow(ctx, query, active, s.now().Unix()).Scan(&count, &oldest, &newest)
	if err != nil {
		return nil, s.wrap("job stats", err)
	}

	stats := &models.JobStats{ActiveJobs: count}
	now := s.now()
	if oldest != nil {
		stats.OldestAge = now.Sub(*oldest)
	}
	if newest != nil {
		stats.NewestAge = now.Sub(*newest)
	}
	return stats, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var status string
	var outBucket, outKey *string
	var outSize *int64
	var prevBucket, prevKey *string
	var prevSize *int64

	err := row.Scan(
		&job.ID, &status, &job.SourceName, &job.Format, &job.Quality,
		&job.Input.Bucket, &job.Input.Key, &job.Input.Size,
		&outBucket, &outKey, &outSize,
		&prevBucket, &prevKey, &prevSize,
		&job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.DownloadedAt, &job.ExpiresAt)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	if outBucket != nil && outKey != nil {
		job.Output = &models.ObjectRef{Bucket: *outBucket, Key: *outKey}
		if outSize != nil {
			job.Output.Size = *outSize
		}
	}
	if prevBucket != nil && prevKey != nil {
		job.Preview = &models.ObjectRef{Bucket: *prevBucket, Key: *prevKey}
		if prevSize != nil {
			job.Preview.Size = *prevSize
		}
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// wrap attaches the operation name and marks retryable failures so the
// retry layer can tell them apart from permanent ones.
func (s *PostgresStore) wrap(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if isTransient(err) {
		return models.Transient(wrapped)
	}
	return wrapped
}

// isTransient classifies store failures worth retrying: connection loss,
// server shutdown, resource exhaustion and timeouts. Constraint violations
// and SQL errors are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08": // connection exception
			return true
		case "53": // insufficient resources
			return true
		case "57": // operator intervention (shutdown, crash)
			return true
		case "58": // system error
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
