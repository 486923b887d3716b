package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/bpmnvm/pkg/cmd"
	"github.com/dukex/bpmnvm/pkg/definition"
	"github.com/dukex/bpmnvm/pkg/engine"
	"github.com/dukex/bpmnvm/pkg/eventbus"
	"github.com/dukex/bpmnvm/pkg/events"
	"github.com/dukex/bpmnvm/pkg/executor"
	"github.com/dukex/bpmnvm/pkg/executor/multitenant"
	"github.com/dukex/bpmnvm/pkg/expression"
	"github.com/dukex/bpmnvm/pkg/log"
	"github.com/dukex/bpmnvm/pkg/otelhelper"
	"github.com/dukex/bpmnvm/pkg/tenant"
)

var ErrNoTenants = errors.New("at least one tenant is required")

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Deploy the process definitions and run the job executors of the configured tenants",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Job store URL (memory://, postgres://, redis://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "definitions-path",
				Usage:    "Directory of the JSON process documents deployed for every tenant",
				Required: true,
				Sources:  cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringSliceFlag{
				Name:     "tenants",
				Usage:    "Tenants served by this process",
				Required: true,
				Sources:  cli.EnvVars("TENANTS"),
			},
			&cli.StringFlag{
				Name:    "tenant-strategy",
				Usage:   "Executor layout: per-tenant or shared",
				Value:   string(multitenant.StrategyPerTenant),
				Sources: cli.EnvVars("TENANT_STRATEGY"),
			},
			&cli.StringSliceFlag{
				Name:    "start",
				Usage:   "Process keys to start once for every tenant after deployment",
				Sources: cli.EnvVars("START_PROCESSES"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "History event bus (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers of the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "kafka-consumer-group",
				Usage:   "Consumer group reading the history topic",
				Value:   "bpmnvm",
				Sources: cli.EnvVars("KAFKA_CONSUMER_GROUP"),
			},
			&cli.StringFlag{
				Name:    "lock-owner",
				Usage:   "Lock owner of the jobs acquired by this process (auto-generated if not provided)",
				Sources: cli.EnvVars("LOCK_OWNER"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Worker goroutines per pool",
				Value:   8,
				Sources: cli.EnvVars("EXECUTOR_WORKERS"),
			},
			&cli.IntFlag{
				Name:    "queue-size",
				Usage:   "Jobs queued per pool before acquisition waits",
				Value:   64,
				Sources: cli.EnvVars("EXECUTOR_QUEUE_SIZE"),
			},
			&cli.IntFlag{
				Name:    "page-size",
				Usage:   "Jobs acquired per cycle",
				Value:   10,
				Sources: cli.EnvVars("EXECUTOR_PAGE_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "lock-time",
				Usage:   "How long an acquired job stays locked",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("EXECUTOR_LOCK_TIME"),
			},
			&cli.DurationFlag{
				Name:    "acquire-interval",
				Usage:   "Pause between acquisition cycles that found no full page",
				Value:   time.Second,
				Sources: cli.EnvVars("EXECUTOR_ACQUIRE_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Usage:   "Time given to running jobs on shutdown",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("SHUTDOWN_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export job and command spans over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			lockOwner := command.String("lock-owner")
			if lockOwner == "" {
				lockOwner = "bpmnvm-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("bpmnvm").With("lock_owner", lockOwner)

			tenants := command.StringSlice("tenants")
			if len(tenants) == 0 {
				return ErrNoTenants
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := cmd.NewJobStore(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to open job store: %w", err)
			}
			defer func() {
				if err := store.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Error("Failed to close job store", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(logger, cmd.EventBusConfig{
				Provider:      command.String("event-bus"),
				KafkaBrokers:  command.StringSlice("kafka-brokers"),
				ConsumerGroup: command.String("kafka-consumer-group"),
				Tracing:       command.Bool("tracing"),
			})
			if err != nil {
				return fmt.Errorf("failed to create event bus: %w", err)
			}
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			err = eventBus.Handle(events.AnyEvent, historyLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to register history logger: %w", err)
			}

			err = eventBus.Subscribe(ctx, tenants...)
			if err != nil {
				return fmt.Errorf("failed to subscribe to history: %w", err)
			}

			compiler, err := definition.NewCompiler(logger, cmd.NewRegistry(logger), expression.NewEvaluator(logger, nil))
			if err != nil {
				return fmt.Errorf("failed to create definition compiler: %w", err)
			}

			engineOptions := []engine.Option{
				engine.WithCompiler(compiler),
				engine.WithEventBus(eventBus),
			}

			var executorOptions []executor.Option

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "bpmnvm")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				engineOptions = append(engineOptions, engine.WithTracer(tracer))
				executorOptions = append(executorOptions, executor.WithTracer(tracer))
			}

			processEngine := engine.New(logger, store, definition.NewRepository(), engineOptions...)

			for _, tenantID := range tenants {
				err := deploy(ctx, logger, processEngine, compiler, tenantID, command.String("definitions-path"))
				if err != nil {
					return err
				}
			}

			config := executor.DefaultConfig(lockOwner)
			config.Workers = command.Int("workers")
			config.QueueSize = command.Int("queue-size")
			config.PageSize = command.Int("page-size")
			config.LockTime = command.Duration("lock-time")
			config.AcquireInterval = command.Duration("acquire-interval")

			jobExecutor, err := multitenant.New(
				logger,
				multitenant.Strategy(command.String("tenant-strategy")),
				store,
				processEngine,
				config,
				tenant.NewStaticHolder(tenants...),
				executorOptions...,
			)
			if err != nil {
				return fmt.Errorf("failed to create job executor: %w", err)
			}

			processEngine.SetJobHinter(jobExecutor)

			err = jobExecutor.Start(ctx)
			if err != nil {
				return fmt.Errorf("failed to start job executor: %w", err)
			}

			for _, tenantID := range tenants {
				for _, key := range command.StringSlice("start") {
					instance, err := processEngine.StartProcessInstanceByKey(ctx, tenantID, key, "", nil)
					if err != nil {
						logger.ErrorContext(ctx, "Failed to start process instance", "tenant_id", tenantID, "key", key, "error", err)

						continue
					}

					logger.InfoContext(ctx, "Process instance running",
						"tenant_id", tenantID,
						"process_instance_id", instance.ID,
						"active_activities", instance.ActiveActivityIDs())
				}
			}

			logger.InfoContext(ctx, "bpmnvm running", "tenants", tenants, "strategy", jobExecutor.Strategy())

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), command.Duration("shutdown-timeout"))
			defer cancel()

			err = jobExecutor.Shutdown(shutdownCtx)
			if err != nil {
				logger.WarnContext(shutdownCtx, "Job executor interrupted during shutdown", "error", err)
			}

			logger.Info("bpmnvm stopped")

			return nil
		},
	}
}

// historyLogger writes every history event of the served tenants at debug level.
func historyLogger(logger *slog.Logger) eventbus.EventHandler {
	logger = logger.With("module", "history")

	return func(ctx context.Context, event eventbus.Event) error {
		logger.DebugContext(ctx, "History event",
			"type", event.GetType(),
			"tenant_id", event.GetTenantID(),
			"event", event)

		return nil
	}
}

// deploy compiles the documents of path for tenantID. Every tenant gets its own compiled copy
// because deployment assigns the tenant to the definition.
func deploy(ctx context.Context, logger *slog.Logger, processEngine *engine.Engine, compiler *definition.Compiler, tenantID, path string) error {
	definitions, err := compiler.LoadDir(path)
	if err != nil {
		return fmt.Errorf("failed to load definitions for tenant %s: %w", tenantID, err)
	}

	for _, processDefinition := range definitions {
		processEngine.Deploy(tenantID, processDefinition)
	}

	logger.InfoContext(ctx, "Definitions deployed", "tenant_id", tenantID, "definitions", len(definitions))

	return nil
}
