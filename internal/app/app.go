// Package app builds the services shared by the API and job binaries from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"trainee-forms/forms-backend/internal/config"
	"trainee-forms/forms-backend/internal/forms"
	"trainee-forms/forms-backend/internal/jobs"
	"trainee-forms/forms-backend/internal/notifications"
	"trainee-forms/forms-backend/pkg/lock"
	"trainee-forms/forms-backend/pkg/pdf"
	"trainee-forms/forms-backend/pkg/storage"
	"trainee-forms/forms-backend/pkg/workflows"
)

// App holds the wired services. Close releases every client it opened.
type App struct {
	Forms     forms.Service
	Repo      forms.Repository
	Scheduler *jobs.Scheduler

	logger  *zap.Logger
	closers []func() error
}

// New connects to every configured backend and wires the services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	repo, snapshots, err := a.openStore(cfg.Database)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Repo = repo

	publisher, err := a.newPublisher(cfg, awsCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.newLocker(ctx, cfg.Lock, awsCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var archiver *forms.Archiver
	if cfg.AWS.Bucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWS.Endpoint != ""
		})
		archiver = forms.NewArchiver(storage.NewS3Client(s3Client), cfg.AWS.Bucket)
	}

	a.Forms = forms.NewService(repo, archiver, snapshots, publisher,
		pdf.NewGenerator(pdf.DefaultOptions()), topics(cfg.Notifications.Topics), logger)

	runner := jobs.NewRunner(repo, a.Forms, cfg.Jobs.PageSize, logger)
	a.Scheduler = jobs.NewScheduler(runner, locker, jobs.DefaultJobs(), jobs.SchedulerConfig{
		Schedules:     cfg.Schedules.ByJob(),
		LockAtMostFor: cfg.Lock.LockAtMostFor,
	}, logger)

	return a, nil
}

// Close closes the opened clients in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close client", zap.Error(err))
		}
	}
	a.closers = nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	if c.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(c.Endpoint)
	}
	return awsCfg, nil
}

func (a *App) openStore(c config.DatabaseConfig) (forms.Repository, forms.SnapshotStore, error) {
	switch c.Driver {
	case "memory":
		a.logger.Warn("Using in-memory form store, data is not persisted")
		return forms.NewMemoryRepository(), nil, nil
	case "postgres", "":
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", c.Driver)
	}

	a.logger.Info("Connecting to database",
		zap.String("host", c.Host),
		zap.String("db_name", c.DBName))
	db, err := sqlx.Connect("postgres", c.GetDatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxConnections)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.MaxLifetime)
	a.closers = append(a.closers, db.Close)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	if err := forms.MigrateSnapshots(gormDB); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate snapshot store: %w", err)
	}

	return forms.NewRepository(db), forms.NewSnapshotStore(gormDB), nil
}

func (a *App) newPublisher(cfg *config.Config, awsCfg aws.Config) (notifications.Publisher, error) {
	switch cfg.Notifications.Provider {
	case "sns":
		return notifications.NewSNSPublisher(sns.NewFromConfig(awsCfg), a.logger), nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka notifications need at least one broker")
		}
		publisher := notifications.NewKafkaPublisher(notifications.NewKafkaWriter(cfg.Kafka.Brokers), a.logger)
		a.closers = append(a.closers, publisher.Close)
		return publisher, nil
	case "none":
		return notifications.NoopPublisher{}, nil
	}
	return nil, fmt.Errorf("unknown notifications provider %q", cfg.Notifications.Provider)
}

func (a *App) newLocker(ctx context.Context, c config.LockConfig, awsCfg aws.Config) (lock.Locker, error) {
	owner := lock.Owner()
	switch c.Provider {
	case "dynamodb":
		return lock.NewDynamoLocker(dynamodb.NewFromConfig(awsCfg), c.Table, owner), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: c.RedisAddr, Password: c.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return lock.NewRedisLocker(client, c.KeyPrefix, owner), nil
	case "none":
		return lock.NoopLocker{}, nil
	}
	return nil, fmt.Errorf("unknown lock provider %q", c.Provider)
}

func topics(c config.TopicsConfig) forms.Topics {
	return forms.Topics{
		Updated: map[workflows.FormVariant]string{
			workflows.FormRPartA: c.FormRPartA,
			workflows.FormRPartB: c.FormRPartB,
			workflows.LTFT:       c.LTFT,
		},
		Assignment: c.LTFTAssignment,
	}
}
