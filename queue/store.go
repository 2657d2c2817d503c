// Package queue provides the batch conversion shell: durable job records in
// SQLite and a polling worker pool that feeds them through the pipeline.
package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/pipeline"
)

// JobStatus represents the current state of a conversion job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusTimeout, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one durable conversion job record
type Job struct {
	ID         string           `json:"id"`
	Spec       pipeline.JobSpec `json:"spec"`
	Status     JobStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  string           `json:"error_kind,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
	RetryCount int              `json:"retry_count,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Store persists job records in the conversion_jobs table
type Store struct {
	db *sql.DB

	// Enqueue refusal threshold; zero means unlimited
	maxQueued int
}

func NewStore(db *sql.DB, maxQueued int) *Store {
	return &Store{db: db, maxQueued: maxQueued}
}

// Enqueue creates a new queued job for the spec
func (s *Store) Enqueue(spec pipeline.JobSpec) (*Job, error) {
	if s.maxQueued > 0 {
		queued, err := s.CountByStatus(JobStatusQueued)
		if err != nil {
			return nil, err
		}
		if queued >= s.maxQueued {
			return nil, errors.Wrapf(errors.ErrResourceExhausted,
				"queue is full (%d jobs waiting)", queued)
		}
	}

	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, errors.Wrap(err, "marshal job spec")
	}

	job := &Job{
		ID:        uuid.NewString(),
		Spec:      spec,
		Status:    JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT INTO conversion_jobs (id, spec, status, created_at) VALUES (?, ?, ?, ?)`,
		job.ID, string(payload), string(job.Status), job.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert job")
	}
	return job, nil
}

// ClaimNext atomically moves the oldest queued job to running and returns
// it. Returns nil when the queue is empty.
func (s *Store) ClaimNext() (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "begin claim")
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow(
		`SELECT id FROM conversion_jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		string(JobStatusQueued)).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select next job")
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`UPDATE conversion_jobs SET status = ?, started_at = ? WHERE id = ?`,
		string(JobStatusRunning), now, id); err != nil {
		return nil, errors.Wrap(err, "claim job")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit claim")
	}
	return s.Get(id)
}

// Complete marks a job finished and stores its result document
func (s *Store) Complete(id string, result *pipeline.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "marshal job result")
	}
	return s.finish(id, JobStatusCompleted, "", "", string(payload))
}

// Fail marks a job failed with its error text and taxonomy kind
func (s *Store) Fail(id string, jobErr error) error {
	status := JobStatusFailed
	if errors.Is(jobErr, errors.ErrTimeout) {
		status = JobStatusTimeout
	}
	return s.finish(id, status, jobErr.Error(), errors.Kind(jobErr), "")
}

// Cancel marks a queued job cancelled; running jobs are not interrupted
func (s *Store) Cancel(id string) error {
	res, err := s.db.Exec(
		`UPDATE conversion_jobs SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
		string(JobStatusCancelled), time.Now().UTC(), id, string(JobStatusQueued))
	if err != nil {
		return errors.Wrap(err, "cancel job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "cancel job")
	}
	if n == 0 {
		return errors.Newf("job %s is not queued", id)
	}
	return nil
}

func (s *Store) finish(id string, status JobStatus, errText, errKind, result string) error {
	var resultArg any
	if result != "" {
		resultArg = result
	}
	_, err := s.db.Exec(
		`UPDATE conversion_jobs SET status = ?, error = ?, error_kind = ?, result = ?, finished_at = ?
		 WHERE id = ?`,
		string(status), errText, errKind, resultArg, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "finish job")
	}
	return nil
}

// Get loads one job by id
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.QueryRow(
		`SELECT id, spec, status, error, error_kind, result, retry_count, created_at, started_at, finished_at
		 FROM conversion_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf("job %s not found", id)
	}
	return job, err
}

// List returns jobs with the given status, newest first. An empty status
// lists everything.
func (s *Store) List(status JobStatus, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, spec, status, error, error_kind, result, retry_count, created_at, started_at, finished_at
	          FROM conversion_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Wrap(rows.Err(), "iterate jobs")
}

// CountByStatus counts jobs in one state
func (s *Store) CountByStatus(status JobStatus) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM conversion_jobs WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count jobs")
	}
	return n, nil
}

// RecoverOrphaned requeues jobs left running by a crashed worker
func (s *Store) RecoverOrphaned() (int, error) {
	res, err := s.db.Exec(
		`UPDATE conversion_jobs SET status = ?, retry_count = retry_count + 1 WHERE status = ?`,
		string(JobStatusQueued), string(JobStatusRunning))
	if err != nil {
		return 0, errors.Wrap(err, "recover orphaned jobs")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "recover orphaned jobs")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var spec, status string
	var result sql.NullString
	var started, finished sql.NullTime

	err := row.Scan(&job.ID, &spec, &status, &job.Error, &job.ErrorKind,
		&result, &job.RetryCount, &job.CreatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(spec), &job.Spec); err != nil {
		return nil, errors.Wrapf(err, "decode spec for job %s", job.ID)
	}
	job.Status = JobStatus(status)
	if result.Valid && result.String != "" {
		job.Result = &pipeline.Result{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, errors.Wrapf(err, "decode result for job %s", job.ID)
		}
	}
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	return &job, nil
}
