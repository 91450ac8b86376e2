package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/openjobspec/ojs-retry-engine/internal/api"
	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/dispatch"
	"github.com/openjobspec/ojs-retry-engine/internal/engine"
	"github.com/openjobspec/ojs-retry-engine/internal/events"
	ojsgrpc "github.com/openjobspec/ojs-retry-engine/internal/grpc"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
	"github.com/openjobspec/ojs-retry-engine/internal/scheduler"
	"github.com/openjobspec/ojs-retry-engine/internal/server"
	"github.com/openjobspec/ojs-retry-engine/internal/state"
)

func main() {
	cfg, err := server.LoadConfig()
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.APIKey == "" && !cfg.AllowInsecureNoAuth {
		logger.Error("refusing to start without API authentication", "hint", "set OJS_API_KEY or OJS_ALLOW_INSECURE_NO_AUTH=true for local development")
		os.Exit(1)
	}
	if cfg.AllowInsecureNoAuth {
		logger.Warn("running without authentication, intended for local development only; set OJS_API_KEY for any shared or production environment")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg server.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize real-time Pub/Sub broker
	broker := events.NewBroker(logger)
	defer broker.Close()

	eng := engine.New(
		engine.WithLogger(logger),
		engine.WithPublisher(broker),
		engine.WithAttemptLogCapacity(cfg.AttemptLogCapacity),
		engine.WithPoisonThreshold(cfg.PoisonThreshold),
	)

	sched := scheduler.New(logger)
	deps := server.Deps{
		Engine:     eng,
		Subscriber: broker,
		Health:     map[string]api.Pinger{},
		Backend:    "memory",
	}

	if cfg.PoisonTTL > 0 {
		ttl := cfg.PoisonTTL
		err := sched.Cron("poison-sweep", cfg.PoisonSweepSchedule, func(ctx context.Context) error {
			_, err := eng.ExpirePoisonMessages(ctx, ttl)
			return err
		})
		if err != nil {
			return err
		}
	}

	if cfg.ArchiveEnabled || cfg.DispatchEnabled {
		// Configure AWS SDK
		awsCfg, err := buildAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}

		if cfg.ArchiveEnabled {
			store := state.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
			if err := store.EnsureTable(ctx); err != nil {
				return err
			}
			defer store.Close()
			logger.Info("DynamoDB archive ready", "table", cfg.DynamoDBTable)

			archiver := state.NewArchiver(eng, store, logger)
			if err := sched.Cron("archive-sync", cfg.ArchiveSchedule, func(ctx context.Context) error {
				_, err := archiver.Sync(ctx)
				return err
			}); err != nil {
				return err
			}
			// Flush whatever changed since the last scheduled run.
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if _, err := archiver.Sync(flushCtx); err != nil {
					logger.Error("final archive sync failed", "error", err)
				}
			}()

			deps.Health["dynamodb"] = store
			deps.Archive = store
			deps.Backend = "dynamodb"
		}

		if cfg.DispatchEnabled {
			dispatcher := dispatch.New(sqs.NewFromConfig(awsCfg), eng, dispatch.Config{
				QueuePrefix:   cfg.SQSQueuePrefix,
				UseFIFO:       cfg.UseFIFO,
				BatchSize:     cfg.DispatchBatch,
				RatePerSecond: cfg.DispatchRate,
			}, logger)
			if err := sched.Every("dispatcher", cfg.DispatchInterval, func(ctx context.Context) error {
				_, err := dispatcher.DispatchDue(ctx)
				return err
			}); err != nil {
				return err
			}

			deps.Health["sqs"] = dispatcher
			deps.Backend = "sqs"
			logger.Info("SQS dispatcher ready",
				"prefix", cfg.SQSQueuePrefix,
				"fifo", cfg.UseFIFO,
				"region", cfg.AWSRegion,
			)
		}
	}

	// Initialize Prometheus server info metric
	metrics.Init(core.Version, deps.Backend)

	// Start background scheduler
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.NewRouter(deps, logger, cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	grpcServer := grpc.NewServer()
	ojsgrpc.Register(grpcServer, eng)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("OJS retry server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		logger.Info("OJS gRPC server listening", "port", cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		_ = broker.PublishOperationEvent(&core.OperationEvent{
			EventType: core.EventServerShutdown,
			Timestamp: core.FormatTime(time.Now()),
		})
		sched.Stop()
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg server.Config) *slog.Logger {
	if cfg.LogFormat == "text" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			TimeFormat: time.RFC3339,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

func buildAWSConfig(ctx context.Context, cfg server.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.AWSRegion),
	}

	// For LocalStack or custom endpoints
	if cfg.AWSEndpointURL != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.AWSEndpointURL,
					HostnameImmutable: true,
					PartitionID:       "aws",
				}, nil
			},
		)
		opts = append(opts,
			config.WithEndpointResolverWithOptions(customResolver),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	return config.LoadDefaultConfig(ctx, opts...)
}
