package persistence_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dukex/bpmnvm/pkg/persistence"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		jobErr := persistence.NewJobError("Delete", "job-123", persistence.ErrJobNotFound)
		deadLetterErr := persistence.NewJobError("Restore", "job-456", persistence.ErrDeadLetterNotFound)

		assert.True(t, persistence.IsJobNotFound(jobErr))
		assert.False(t, persistence.IsJobNotFound(deadLetterErr))
		assert.True(t, persistence.IsDeadLetterNotFound(deadLetterErr))

		assert.True(t, errors.Is(jobErr, persistence.ErrJobNotFound))
	})

	t.Run("job error contains context", func(t *testing.T) {
		err := persistence.NewJobError("Lock", "job-123", persistence.ErrJobNotFound)

		assert.Contains(t, err.Error(), "Lock")
		assert.Contains(t, err.Error(), "job-123")
		assert.Contains(t, err.Error(), "job not found")
	})
}
