package multitenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/executor"
	"github.com/dukex/bpmnvm/pkg/log"
	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/persistence/memory"
	"github.com/dukex/bpmnvm/pkg/tenant"
	"github.com/dukex/bpmnvm/pkg/testutil"
)

// tenantRecorder records, per job, the tenant the worker slot carried while the job ran.
type tenantRecorder struct {
	mu      sync.Mutex
	tenants map[string]string
}

func newTenantRecorder() *tenantRecorder {
	return &tenantRecorder{tenants: make(map[string]string)}
}

func (r *tenantRecorder) ExecuteJob(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tenants[job.ID] = tenant.SlotFromContext(ctx).Get()

	return nil
}

func (r *tenantRecorder) tenantOf(jobID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenantID, ok := r.tenants[jobID]

	return tenantID, ok
}

func (r *tenantRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tenants)
}

// fakeTenantExecutor stands in for a tenant executor whose Start may fail.
type fakeTenantExecutor struct {
	startErr error

	mu       sync.Mutex
	active   bool
	shutdown bool
}

func (f *fakeTenantExecutor) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return f.startErr
	}

	f.active = true

	return nil
}

func (f *fakeTenantExecutor) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active = false
	f.shutdown = true

	return nil
}

func (f *fakeTenantExecutor) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.active
}

func (f *fakeTenantExecutor) HintJobs(string) {}

func (f *fakeTenantExecutor) wasShutDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.shutdown
}

func testConfig() executor.Config {
	config := executor.DefaultConfig("node-1")
	config.AcquireInterval = 10 * time.Millisecond
	config.Workers = 2

	return config
}

func shutdown(t *testing.T, e *Executor) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, e.Shutdown(ctx))
}

func TestNew_UnknownStrategy(t *testing.T) {
	_, err := New(log.Discard(), Strategy("round-robin"), memory.NewStore(), newTenantRecorder(),
		testConfig(), tenant.NewStaticHolder())
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := NewExecutorPerTenant(log.Discard(), memory.NewStore(), newTenantRecorder(),
		executor.Config{}, tenant.NewStaticHolder())
	assert.ErrorIs(t, err, executor.ErrInvalidConfig)
}

func TestStrategies_RunJobsUnderTheirTenant(t *testing.T) {
	constructors := map[Strategy]func(*testing.T, persistence.JobStore, executor.JobHandler) *Executor{
		StrategyPerTenant: func(t *testing.T, store persistence.JobStore, handler executor.JobHandler) *Executor {
			e, err := NewExecutorPerTenant(log.Discard(), store, handler, testConfig(), tenant.NewStaticHolder("acme", "globex"))
			require.NoError(t, err)

			return e
		},
		StrategyShared: func(t *testing.T, store persistence.JobStore, handler executor.JobHandler) *Executor {
			e, err := NewSharedPool(log.Discard(), store, handler, testConfig(), tenant.NewStaticHolder("acme", "globex"))
			require.NoError(t, err)

			return e
		},
	}

	for strategy, newExecutor := range constructors {
		t.Run(string(strategy), func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewStore()
			recorder := newTenantRecorder()

			e := newExecutor(t, store, recorder)
			assert.Equal(t, strategy, e.Strategy())

			jobs := make(map[string]string)

			for range 5 {
				for _, tenantID := range []string{"acme", "globex"} {
					job := testutil.CreateTestJob(testutil.WithTenant(tenantID))
					require.NoError(t, store.InsertJob(ctx, job))

					jobs[job.ID] = tenantID
				}
			}

			unknown := testutil.CreateTestJob(testutil.WithTenant("initech"))
			require.NoError(t, store.InsertJob(ctx, unknown))

			require.NoError(t, e.Start(ctx))
			assert.True(t, e.IsActive())
			assert.Equal(t, []string{"acme", "globex"}, e.Tenants())

			require.Eventually(t, func() bool {
				return recorder.count() == len(jobs)
			}, 5*time.Second, 10*time.Millisecond)

			shutdown(t, e)
			assert.False(t, e.IsActive())

			for jobID, tenantID := range jobs {
				seen, ok := recorder.tenantOf(jobID)
				require.True(t, ok)
				assert.Equal(t, tenantID, seen, "job %s", jobID)
			}

			_, ran := recorder.tenantOf(unknown.ID)
			assert.False(t, ran)
		})
	}
}

func TestAddAndRemoveTenant(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	recorder := newTenantRecorder()

	e, err := NewSharedPool(log.Discard(), store, recorder, testConfig(), tenant.NewStaticHolder("acme"))
	require.NoError(t, err)

	require.NoError(t, e.Start(ctx))
	defer shutdown(t, e)

	job := testutil.CreateTestJob(testutil.WithTenant("globex"))
	require.NoError(t, store.InsertJob(ctx, job))

	require.NoError(t, e.AddTenant(ctx, "globex", false))
	assert.Equal(t, []string{"acme", "globex"}, e.Tenants())
	assert.False(t, e.TenantExecutor("globex").IsActive())

	require.NoError(t, e.AddTenant(ctx, "globex", true))
	assert.True(t, e.TenantExecutor("globex").IsActive())

	require.Eventually(t, func() bool {
		_, ok := recorder.tenantOf(job.ID)

		return ok
	}, 5*time.Second, 10*time.Millisecond)

	removed := e.TenantExecutor("globex")
	require.NoError(t, e.RemoveTenant(ctx, "globex"))

	assert.False(t, removed.IsActive())
	assert.Nil(t, e.TenantExecutor("globex"))
	assert.Equal(t, []string{"acme"}, e.Tenants())

	require.NoError(t, e.RemoveTenant(ctx, "globex"))
}

func TestHintJobs_RoutesToTenant(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	recorder := newTenantRecorder()

	config := testConfig()
	config.AcquireInterval = time.Hour

	e, err := NewExecutorPerTenant(log.Discard(), store, recorder, config, tenant.NewStaticHolder("acme"))
	require.NoError(t, err)

	require.NoError(t, e.Start(ctx))
	defer shutdown(t, e)

	time.Sleep(50 * time.Millisecond)

	job := testutil.CreateTestJob(testutil.WithTenant("acme"))
	require.NoError(t, store.InsertJob(ctx, job))

	e.HintJobs("unknown")
	e.HintJobs("acme")

	assert.Eventually(t, func() bool {
		tenantID, ok := recorder.tenantOf(job.ID)

		return ok && tenantID == "acme"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStart_TenantFailureStopsStartedTenants(t *testing.T) {
	tests := []struct {
		name        string
		createErr   error
		startErr    error
		wantErr     string
		wantStopped []string
	}{
		{
			name:        "start fails",
			startErr:    errors.New("store unreachable"),
			wantErr:     "failed to start executor of tenant globex: store unreachable",
			wantStopped: []string{"acme", "initech"},
		},
		{
			name:      "creation fails",
			createErr: errors.New("invalid tenant"),
			wantErr:   "failed to create executor of tenant globex: invalid tenant",
		},
	}

	for _, tt := range tests {
		for _, strategy := range []Strategy{StrategyPerTenant, StrategyShared} {
			t.Run(tt.name+"/"+string(strategy), func(t *testing.T) {
				e, err := New(log.Discard(), strategy, memory.NewStore(), newTenantRecorder(), testConfig(),
					tenant.NewStaticHolder("acme", "globex", "initech"))
				require.NoError(t, err)

				fakes := map[string]*fakeTenantExecutor{
					"acme":    {},
					"globex":  {startErr: tt.startErr},
					"initech": {},
				}

				e.newTenantExecutor = func(tenantID string) (executor.AsyncExecutor, error) {
					if tenantID == "globex" && tt.createErr != nil {
						return nil, tt.createErr
					}

					return fakes[tenantID], nil
				}

				err = e.Start(context.Background())
				require.ErrorContains(t, err, tt.wantErr)
				assert.False(t, e.IsActive())

				for tenantID, fake := range fakes {
					assert.False(t, fake.IsActive(), "tenant %s", tenantID)
				}

				for _, tenantID := range tt.wantStopped {
					assert.True(t, fakes[tenantID].wasShutDown(), "tenant %s", tenantID)
				}

				assert.False(t, fakes["globex"].wasShutDown(), "a tenant that never started is not shut down")

				shutdown(t, e)
			})
		}
	}
}
