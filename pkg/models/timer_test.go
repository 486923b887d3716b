package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		expected   time.Duration
		wantErr    bool
	}{
		{name: "go duration", expression: "90s", expected: 90 * time.Second},
		{name: "iso seconds", expression: "PT30S", expected: 30 * time.Second},
		{name: "iso mixed", expression: "P1DT2H3M4S", expected: 26*time.Hour + 3*time.Minute + 4*time.Second},
		{name: "iso fractional seconds", expression: "PT1.5S", expected: 1500 * time.Millisecond},
		{name: "iso week", expression: "P1W", expected: 7 * 24 * time.Hour},
		{name: "empty iso", expression: "PT", wantErr: true},
		{name: "negative iso", expression: "-P1D", wantErr: true},
		{name: "garbage", expression: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			duration, err := ParseDuration(tt.expression)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTimerExpression)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, duration)
		})
	}
}

func TestAddDuration(t *testing.T) {
	from := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		from       time.Time
		expression string
		expected   time.Time
		wantErr    bool
	}{
		{name: "go duration", from: from, expression: "90m", expected: from.Add(90 * time.Minute)},
		{name: "week", from: from, expression: "P1W", expected: time.Date(2024, 1, 22, 10, 0, 0, 0, time.UTC)},
		{name: "month", from: from, expression: "P1M", expected: time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC)},
		{name: "year", from: from, expression: "P1Y", expected: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)},
		{name: "year across leap day", from: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), expression: "P1Y", expected: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "month from month end", from: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), expression: "P1M", expected: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		{name: "mixed", from: from, expression: "P1Y2M3DT4H30M", expected: time.Date(2025, 3, 18, 14, 30, 0, 0, time.UTC)},
		{name: "fractional days", from: from, expression: "P0.5D", expected: from.Add(12 * time.Hour)},
		{name: "invalid", from: from, expression: "P1X", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, err := AddDuration(tt.from, tt.expression)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTimerExpression)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, due)
		})
	}
}

func TestTimerDeclaration_DueDate(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	due, err := (&TimerDeclaration{ActivityID: "timer", Type: TimerTypeDuration, Expression: "PT5M"}).DueDate(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Minute), due)

	due, err = (&TimerDeclaration{ActivityID: "timer", Type: TimerTypeDuration, Expression: "P1M"}).DueDate(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), due)

	due, err = (&TimerDeclaration{ActivityID: "timer", Type: TimerTypeDate, Expression: "2024-06-01T00:00:00Z"}).DueDate(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), due)

	due, err = (&TimerDeclaration{ActivityID: "timer", Type: TimerTypeCycle, Expression: "0 12 * * *"}).DueDate(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), due)
}

func TestNextCycle_Repeat(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	next, following, err := NextCycle("R2/PT10S", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Second), next)
	assert.Equal(t, "R1/PT10S", following)

	_, following, err = NextCycle(following, next)
	require.NoError(t, err)
	assert.Equal(t, "R0/PT10S", following)

	_, _, err = NextCycle(following, next)
	require.ErrorIs(t, err, ErrCycleExhausted)

	_, following, err = NextCycle("R/PT1M", now)
	require.NoError(t, err)
	assert.Equal(t, "R/PT1M", following)

	next, following, err = NextCycle("R1/P1Y", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), next)
	assert.Equal(t, "R0/P1Y", following)
}

func TestJob_IsAcquirable(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	job := NewJob(JobTypeTimer, HandlerTimerBoundary, "exec", "pi", now)
	assert.True(t, job.IsAcquirable(now))

	job.DueDate = &future
	assert.False(t, job.IsAcquirable(now))

	job.DueDate = &past
	job.LockOwner = "other"
	job.LockExpiration = &future
	assert.False(t, job.IsAcquirable(now))

	job.LockExpiration = &past
	assert.True(t, job.IsAcquirable(now))

	job.Type = JobTypeSuspended
	assert.False(t, job.IsAcquirable(now))
}
