package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/persistence"
)

const uniqueViolation = "23505"

const jobColumns = `id, type, suspended_type, handler_type, handler_configuration, execution_id,
	process_instance_id, process_definition_id, due_date, lock_owner, lock_expiration, retries,
	exception_message, tenant_id, repeat_expression, created_at, attempts`

const jobPlaceholders = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17`

// JobRepository handles job-related database operations.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertJob(ctx context.Context, db execer, table string, job *models.Job) error {
	query := `INSERT INTO ` + table + ` (` + jobColumns + `) VALUES (` + jobPlaceholders + `)`

	_, err := db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.SuspendedType,
		job.HandlerType,
		job.HandlerConfiguration,
		job.ExecutionID,
		job.ProcessInstanceID,
		job.ProcessDefinitionID,
		job.DueDate,
		job.LockOwner,
		job.LockExpiration,
		job.Retries,
		job.ExceptionMessage,
		job.TenantID,
		job.Repeat,
		job.CreatedAt,
		job.Attempts,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewJobError("Insert", job.ID, persistence.ErrJobAlreadyExists)
		}

		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}

	return nil
}

// Insert saves a new job.
func (r *JobRepository) Insert(ctx context.Context, job *models.Job) error {
	return insertJob(ctx, r.db, "jobs", job)
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return job, nil
}

// GetByProcessInstance retrieves every job of a process instance, oldest first.
func (r *JobRepository) GetByProcessInstance(ctx context.Context, processInstanceID string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE process_instance_id = $1 ORDER BY created_at, id`

	return r.queryJobs(ctx, query, processInstanceID)
}

// FindDue retrieves due, unlocked jobs of a tenant.
func (r *JobRepository) FindDue(ctx context.Context, dueQuery persistence.DueJobsQuery) ([]*models.Job, error) {
	types := make([]string, 0, len(dueQuery.JobTypes()))
	for _, jobType := range dueQuery.JobTypes() {
		types = append(types, string(jobType))
	}

	limit := dueQuery.Limit
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE tenant_id = $1
			AND type = ANY($2)
			AND retries > 0
			AND (due_date IS NULL OR due_date <= $3)
			AND (lock_owner = '' OR lock_expiration IS NULL OR lock_expiration <= $3)
		ORDER BY due_date ASC NULLS FIRST, created_at ASC, id ASC
		LIMIT NULLIF($4, -1)
	`

	return r.queryJobs(ctx, query, dueQuery.TenantID, pq.Array(types), dueQuery.Now, limit)
}

// Lock claims a job with a compare-and-set on its lock columns.
func (r *JobRepository) Lock(ctx context.Context, jobID, owner string, now, expiration time.Time) (bool, error) {
	query := `
		UPDATE jobs SET lock_owner = $2, lock_expiration = $3
		WHERE id = $1
			AND type <> 'suspended'
			AND (lock_owner = '' OR lock_expiration IS NULL OR lock_expiration <= $4)
	`

	result, err := r.db.ExecContext(ctx, query, jobID, owner, expiration, now)
	if err != nil {
		return false, fmt.Errorf("failed to lock job %s: %w", jobID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected == 1, nil
}

// ResetExpiredLocks releases the expired locks of a tenant.
func (r *JobRepository) ResetExpiredLocks(ctx context.Context, tenantID string, now time.Time) (int, error) {
	query := `
		UPDATE jobs SET lock_owner = '', lock_expiration = NULL
		WHERE tenant_id = $1 AND lock_owner <> '' AND lock_expiration <= $2
	`

	result, err := r.db.ExecContext(ctx, query, tenantID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reset expired locks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}

// Delete removes a job.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "Delete", id, `DELETE FROM jobs WHERE id = $1`, id)
}

// DeleteByExecution removes every job of an execution.
func (r *JobRepository) DeleteByExecution(ctx context.Context, executionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("failed to delete jobs of execution %s: %w", executionID, err)
	}

	return nil
}

// UpdateRetry stores the outcome of a failed attempt and releases the lock.
func (r *JobRepository) UpdateRetry(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs
		SET retries = $2, due_date = $3, exception_message = $4, attempts = $5,
			lock_owner = '', lock_expiration = NULL
		WHERE id = $1
	`

	return r.execOne(ctx, "UpdateRetry", job.ID, query,
		job.ID, job.Retries, job.DueDate, job.ExceptionMessage, job.Attempts)
}

// MoveToDeadLetter moves a job to the dead-letter table in one transaction.
func (r *JobRepository) MoveToDeadLetter(ctx context.Context, job *models.Job) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	dead := job.Clone()
	dead.LockOwner = ""
	dead.LockExpiration = nil

	err = affectOne(ctx, transaction, "MoveToDeadLetter", job.ID, `DELETE FROM jobs WHERE id = $1`, job.ID)
	if err == nil {
		err = insertJob(ctx, transaction, "dead_letter_jobs", dead)
	}

	if err != nil {
		_ = transaction.Rollback()

		return err
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit dead letter of job %s: %w", job.ID, err)
	}

	return nil
}

// DeadLetters retrieves the dead-letter jobs of a tenant, oldest first.
func (r *JobRepository) DeadLetters(ctx context.Context, tenantID string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM dead_letter_jobs WHERE tenant_id = $1 ORDER BY created_at, id`

	return r.queryJobs(ctx, query, tenantID)
}

// RestoreDeadLetter moves a dead-letter job back to the jobs table with new retries.
func (r *JobRepository) RestoreDeadLetter(ctx context.Context, id string, retries int) (*models.Job, error) {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM dead_letter_jobs WHERE id = $1 FOR UPDATE`

	job, err := scanJob(transaction.QueryRowContext(ctx, query, id))
	if err != nil {
		_ = transaction.Rollback()

		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("Restore", id, persistence.ErrDeadLetterNotFound)
		}

		return nil, fmt.Errorf("failed to scan dead-letter job: %w", err)
	}

	persistence.Restore(job, retries)

	_, err = transaction.ExecContext(ctx, `DELETE FROM dead_letter_jobs WHERE id = $1`, id)
	if err == nil {
		err = insertJob(ctx, transaction, "jobs", job)
	}

	if err != nil {
		_ = transaction.Rollback()

		return nil, fmt.Errorf("failed to restore job %s: %w", id, err)
	}

	err = transaction.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit restore of job %s: %w", id, err)
	}

	return job, nil
}

// Suspend turns the jobs of a process instance into suspended jobs.
func (r *JobRepository) Suspend(ctx context.Context, processInstanceID string) (int, error) {
	query := `
		UPDATE jobs SET suspended_type = type, type = 'suspended'
		WHERE process_instance_id = $1 AND type <> 'suspended'
	`

	return r.execCount(ctx, query, processInstanceID)
}

// Activate restores the type of the suspended jobs of a process instance.
func (r *JobRepository) Activate(ctx context.Context, processInstanceID string) (int, error) {
	query := `
		UPDATE jobs SET type = suspended_type, suspended_type = ''
		WHERE process_instance_id = $1 AND type = 'suspended'
	`

	return r.execCount(ctx, query, processInstanceID)
}

func (r *JobRepository) execCount(ctx context.Context, query string, args ...any) (int, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}

func (r *JobRepository) execOne(ctx context.Context, op, id, query string, args ...any) error {
	return affectOne(ctx, r.db, op, id, query, args...)
}

// affectOne runs a statement that must affect exactly the row of job id.
func affectOne(ctx context.Context, db execer, op, id, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s job %s: %w", op, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewJobError(op, id, persistence.ErrJobNotFound)
	}

	return nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// scanJob scans a job from a database row.
func scanJob(scanner interface {
	Scan(dest ...any) error
}) (*models.Job, error) {
	var (
		job                     models.Job
		dueDate, lockExpiration sql.NullTime
	)

	err := scanner.Scan(
		&job.ID,
		&job.Type,
		&job.SuspendedType,
		&job.HandlerType,
		&job.HandlerConfiguration,
		&job.ExecutionID,
		&job.ProcessInstanceID,
		&job.ProcessDefinitionID,
		&dueDate,
		&job.LockOwner,
		&lockExpiration,
		&job.Retries,
		&job.ExceptionMessage,
		&job.TenantID,
		&job.Repeat,
		&job.CreatedAt,
		&job.Attempts,
	)
	if err != nil {
		return nil, err
	}

	if dueDate.Valid {
		due := dueDate.Time.UTC()
		job.DueDate = &due
	}

	if lockExpiration.Valid {
		expiration := lockExpiration.Time.UTC()
		job.LockExpiration = &expiration
	}

	job.CreatedAt = job.CreatedAt.UTC()

	return &job, nil
}
