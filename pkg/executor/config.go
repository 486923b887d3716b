// Package executor acquires due jobs from a job store and runs them on a bounded worker pool.
package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/go-playground/validator/v10"
)

var ErrInvalidConfig = errors.New("invalid executor configuration")

// DefaultRetryBackoff spaces the attempts of a failing job.
var DefaultRetryBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(time.Second),
	linger.FullJitter,
	linger.Limiter(time.Second, 10*time.Minute),
)

// DefaultAcquisitionBackoff is used between acquisition cycles that failed to reach the store.
var DefaultAcquisitionBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(100*time.Millisecond),
	linger.FullJitter,
	linger.Limiter(0, 30*time.Second),
)

// Config tunes one executor.
type Config struct {
	// TenantID scopes acquisition; empty serves jobs without a tenant.
	TenantID  string `json:"tenant_id"`
	LockOwner string `json:"lock_owner" validate:"required"`

	// LockTime is how long a claimed job stays locked before the reset sweep may reclaim it.
	LockTime time.Duration `json:"lock_time" validate:"gt=0"`
	PageSize int           `json:"page_size" validate:"gt=0"`

	Workers   int `json:"workers"    validate:"gt=0"`
	QueueSize int `json:"queue_size" validate:"gte=0"`

	// AcquireInterval is the pause after a cycle that found less than a page of jobs.
	AcquireInterval time.Duration `json:"acquire_interval" validate:"gt=0"`
	// QueueFullWait is the pause before resubmitting a job the full queue rejected.
	QueueFullWait      time.Duration `json:"queue_full_wait"      validate:"gt=0"`
	ResetLocksInterval time.Duration `json:"reset_locks_interval" validate:"gt=0"`
}

// DefaultConfig returns a configuration for lockOwner with conservative defaults.
func DefaultConfig(lockOwner string) Config {
	return Config{
		LockOwner:          lockOwner,
		LockTime:           5 * time.Minute,
		PageSize:           10,
		Workers:            8,
		QueueSize:          64,
		AcquireInterval:    time.Second,
		QueueFullWait:      100 * time.Millisecond,
		ResetLocksInterval: time.Minute,
	}
}

// Validate checks the configuration with the struct tags.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, validationErrors)
		}

		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// ForTenant returns a copy of the configuration scoped to tenantID.
func (c Config) ForTenant(tenantID string) Config {
	c.TenantID = tenantID

	return c
}
