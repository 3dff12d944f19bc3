// Package app assembles the job engine from configuration: the database
// pool, AWS clients, the record stores and the engine itself. Both the
// long-running scheduler and the job-runner tool build through here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"clubhouse/internal/config"
	"clubhouse/internal/core"
	"clubhouse/internal/db"
	"clubhouse/internal/external"
	"clubhouse/internal/metrics"
	"clubhouse/internal/notifications"
	"clubhouse/internal/scheduler"
)

// App holds the assembled engine and the resources that must be released on
// exit.
type App struct {
	Config  *config.Config
	Engine  *scheduler.Engine
	Pool    *pgxpool.Pool
	Spawner *notifications.Spawner
	Logger  *slog.Logger
}

// NewLogger builds the JSON stdout logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// LoadAWSConfig loads the default credential chain for cfg.Region, pointing
// every client at EndpointURL when set (LocalStack).
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// NewPool opens and pings the database pool.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// LoadConfig loads the process configuration, resolving *_SSM_PARAM
// pointers outside local mode. A nil provider means AWS SSM.
func LoadConfig(ctx context.Context, provider config.SecretProvider) (*config.Config, error) {
	if provider == nil && os.Getenv("APP_ENV") != "local" {
		awsCfg, err := LoadAWSConfig(ctx, config.AWSConfig{
			Region:      envOr("AWS_REGION", "us-east-1"),
			EndpointURL: os.Getenv("AWS_ENDPOINT_URL"),
		})
		if err != nil {
			return nil, err
		}
		provider = config.NewSSMProvider(awsCfg)
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New wires the engine. Triggers are not started.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return nil, err
	}

	blobs := external.NewS3BlobDeleter(awsCfg, external.BlobDeleterConfig{
		Bucket:        cfg.AWS.MediaBucket,
		PublicBaseURL: cfg.AWS.MediaPublicBaseURL,
		Logger:        logger,
	}, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWS.EndpointURL != ""
	})
	dispatcher := notifications.NewSQSDispatcher(sqs.NewFromConfig(awsCfg), cfg.AWS.NotificationQueue, logger)

	spawner := notifications.NewSpawner(cfg.Observability.MetricsMaxInFlight, notifications.DefaultSpawnTimeout, logger)
	var recorder scheduler.RunRecorder = metrics.NopRecorder{}
	if cfg.Observability.EnableMetrics {
		recorder = metrics.NewCloudWatchRecorder(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, spawner, logger)
	}

	engine, err := scheduler.NewEngine(cfg.Jobs.SchedulerConfig(), scheduler.Deps{
		CleanupStore:    db.NewCleanupRepository(pool),
		PublishingStore: db.NewPublishingRepository(pool),
		StatusStore:     db.NewEventStatusRepository(pool),
		ReminderStore:   db.NewReminderRepository(pool),
		Blobs:           blobs,
		Dispatcher:      dispatcher,
		Recorder:        recorder,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("building job engine: %w", err)
	}

	return &App{
		Config:  cfg,
		Engine:  engine,
		Pool:    pool,
		Spawner: spawner,
		Logger:  logger,
	}, nil
}

// HealthProbes returns the dependency checks served at /health.
func (a *App) HealthProbes() []core.HealthProbe {
	return []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: func(ctx context.Context) error {
			return db.Pinger(a.Pool).Ping(ctx)
		}},
	}
}

// Close flushes pending metric writes (bounded by ctx) and closes the pool.
func (a *App) Close(ctx context.Context) {
	if err := a.Spawner.Wait(ctx); err != nil {
		a.Logger.WarnContext(ctx, "pending metric writes abandoned",
			"error", err,
			"dropped", a.Spawner.Dropped(),
			"failed", a.Spawner.Failed(),
		)
	}
	a.Pool.Close()
}
