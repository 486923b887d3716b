// Package postgresql provides the PostgreSQL job store.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// PostgreSQL driver registration.
	_ "github.com/lib/pq"

	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/persistence/sqlbase"
)

// Persistence implements persistence.JobStore on PostgreSQL.
type Persistence struct {
	db      *sql.DB
	logger  *slog.Logger
	jobRepo *JobRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize components
	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:      database,
		logger:  logger,
		jobRepo: NewJobRepository(database, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) InsertJob(ctx context.Context, job *models.Job) error {
	return p.jobRepo.Insert(ctx, job)
}

func (p *Persistence) JobByID(ctx context.Context, id string) (*models.Job, error) {
	return p.jobRepo.GetByID(ctx, id)
}

func (p *Persistence) JobsByProcessInstance(ctx context.Context, processInstanceID string) ([]*models.Job, error) {
	return p.jobRepo.GetByProcessInstance(ctx, processInstanceID)
}

func (p *Persistence) FindDueJobs(ctx context.Context, query persistence.DueJobsQuery) ([]*models.Job, error) {
	return p.jobRepo.FindDue(ctx, query)
}

func (p *Persistence) LockJob(ctx context.Context, jobID, owner string, now, expiration time.Time) (bool, error) {
	return p.jobRepo.Lock(ctx, jobID, owner, now, expiration)
}

func (p *Persistence) ResetExpiredLocks(ctx context.Context, tenantID string, now time.Time) (int, error) {
	return p.jobRepo.ResetExpiredLocks(ctx, tenantID, now)
}

func (p *Persistence) DeleteJob(ctx context.Context, id string) error {
	return p.jobRepo.Delete(ctx, id)
}

func (p *Persistence) DeleteJobsByExecution(ctx context.Context, executionID string) error {
	return p.jobRepo.DeleteByExecution(ctx, executionID)
}

func (p *Persistence) UpdateJobRetry(ctx context.Context, job *models.Job) error {
	return p.jobRepo.UpdateRetry(ctx, job)
}

func (p *Persistence) MoveToDeadLetter(ctx context.Context, job *models.Job) error {
	return p.jobRepo.MoveToDeadLetter(ctx, job)
}

func (p *Persistence) DeadLetterJobs(ctx context.Context, tenantID string) ([]*models.Job, error) {
	return p.jobRepo.DeadLetters(ctx, tenantID)
}

func (p *Persistence) RestoreDeadLetterJob(ctx context.Context, id string, retries int) (*models.Job, error) {
	return p.jobRepo.RestoreDeadLetter(ctx, id, retries)
}

func (p *Persistence) SuspendJobs(ctx context.Context, processInstanceID string) (int, error) {
	return p.jobRepo.Suspend(ctx, processInstanceID)
}

func (p *Persistence) ActivateJobs(ctx context.Context, processInstanceID string) (int, error) {
	return p.jobRepo.Activate(ctx, processInstanceID)
}
