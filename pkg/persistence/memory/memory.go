// Package memory provides an in-process job store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/persistence"
)

// Store keeps jobs in maps guarded by a single mutex. Jobs are copied in and out so callers never
// share state with the store.
type Store struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	deadLetters map[string]*models.Job
}

func NewStore() *Store {
	return &Store{
		jobs:        make(map[string]*models.Job),
		deadLetters: make(map[string]*models.Job),
	}
}

func (s *Store) InsertJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return persistence.NewJobError("Insert", job.ID, persistence.ErrJobAlreadyExists)
	}

	s.jobs[job.ID] = job.Clone()

	return nil
}

func (s *Store) JobByID(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
	}

	return job.Clone(), nil
}

func (s *Store) JobsByProcessInstance(_ context.Context, processInstanceID string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*models.Job, 0)

	for _, job := range s.jobs {
		if job.ProcessInstanceID == processInstanceID {
			jobs = append(jobs, job.Clone())
		}
	}

	sortByCreation(jobs)

	return jobs, nil
}

func (s *Store) FindDueJobs(_ context.Context, query persistence.DueJobsQuery) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*models.Job, 0)

	for _, job := range s.jobs {
		if query.Matches(job) {
			jobs = append(jobs, job.Clone())
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		left, right := jobs[i].DueDate, jobs[j].DueDate

		switch {
		case left == nil && right != nil:
			return true
		case left != nil && right == nil:
			return false
		case left != nil && !left.Equal(*right):
			return left.Before(*right)
		default:
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
	})

	if query.Limit > 0 && len(jobs) > query.Limit {
		jobs = jobs[:query.Limit]
	}

	return jobs, nil
}

func (s *Store) LockJob(_ context.Context, jobID, owner string, now, expiration time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Type == models.JobTypeSuspended || job.IsLocked(now) {
		return false, nil
	}

	job.LockOwner = owner
	job.LockExpiration = &expiration

	return true, nil
}

func (s *Store) ResetExpiredLocks(_ context.Context, tenantID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, job := range s.jobs {
		if job.TenantID != tenantID || job.LockOwner == "" || job.IsLocked(now) {
			continue
		}

		job.LockOwner = ""
		job.LockExpiration = nil
		count++
	}

	return count, nil
}

func (s *Store) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return persistence.NewJobError("Delete", id, persistence.ErrJobNotFound)
	}

	delete(s.jobs, id)

	return nil
}

func (s *Store) DeleteJobsByExecution(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.ExecutionID == executionID {
			delete(s.jobs, id)
		}
	}

	return nil
}

func (s *Store) UpdateJobRetry(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return persistence.NewJobError("UpdateRetry", job.ID, persistence.ErrJobNotFound)
	}

	updated := stored.Clone()
	updated.Retries = job.Retries
	updated.Attempts = job.Attempts
	updated.ExceptionMessage = job.ExceptionMessage
	updated.DueDate = job.Clone().DueDate
	updated.LockOwner = ""
	updated.LockExpiration = nil

	s.jobs[job.ID] = updated

	return nil
}

func (s *Store) MoveToDeadLetter(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return persistence.NewJobError("MoveToDeadLetter", job.ID, persistence.ErrJobNotFound)
	}

	dead := job.Clone()
	dead.LockOwner = ""
	dead.LockExpiration = nil

	delete(s.jobs, job.ID)
	s.deadLetters[job.ID] = dead

	return nil
}

func (s *Store) DeadLetterJobs(_ context.Context, tenantID string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*models.Job, 0)

	for _, job := range s.deadLetters {
		if job.TenantID == tenantID {
			jobs = append(jobs, job.Clone())
		}
	}

	sortByCreation(jobs)

	return jobs, nil
}

func (s *Store) RestoreDeadLetterJob(_ context.Context, id string, retries int) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.deadLetters[id]
	if !ok {
		return nil, persistence.NewJobError("Restore", id, persistence.ErrDeadLetterNotFound)
	}

	persistence.Restore(job, retries)

	delete(s.deadLetters, id)
	s.jobs[id] = job

	return job.Clone(), nil
}

func (s *Store) SuspendJobs(_ context.Context, processInstanceID string) (int, error) {
	return s.eachOfInstance(processInstanceID, persistence.Suspend), nil
}

func (s *Store) ActivateJobs(_ context.Context, processInstanceID string) (int, error) {
	return s.eachOfInstance(processInstanceID, persistence.Activate), nil
}

func (s *Store) eachOfInstance(processInstanceID string, apply func(*models.Job) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, job := range s.jobs {
		if job.ProcessInstanceID == processInstanceID && apply(job) {
			count++
		}
	}

	return count
}

func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}

func sortByCreation(jobs []*models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}

		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
