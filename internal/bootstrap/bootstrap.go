// Package bootstrap turns loaded configuration into the clients the binaries share.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-vetting/internal/capability"
	"github.com/cuongbtq/media-vetting/internal/config"
	"github.com/cuongbtq/media-vetting/internal/coordinator"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/events"
	"github.com/cuongbtq/media-vetting/internal/progress"
	"github.com/cuongbtq/media-vetting/internal/queue"
	"github.com/cuongbtq/media-vetting/internal/worker"
	"github.com/cuongbtq/media-vetting/internal/worker/handler"
	"github.com/cuongbtq/media-vetting/shared/logger"
	"github.com/cuongbtq/media-vetting/shared/postgresql"
	"github.com/cuongbtq/media-vetting/shared/rabbitmq"
	"github.com/cuongbtq/media-vetting/shared/redisstore"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// OpenStore creates the Redis store and waits until it answers
func OpenStore(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redisstore.Store, error) {
	store, err := redisstore.New(&redisstore.Config{
		URL:          cfg.URL,
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Reconnect: redisstore.ReconnectPolicy{
			MinBackoff:      cfg.Reconnect.MinBackoff,
			MaxBackoff:      cfg.Reconnect.MaxBackoff,
			MaxRetries:      cfg.Reconnect.MaxRetries,
			ConnectAttempts: cfg.Reconnect.ConnectAttempts,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := store.Open(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Core is the queue manager, tracker and coordinator over one store
type Core struct {
	Store       *redisstore.Store
	Queue       *queue.Queue
	Tracker     *progress.Tracker
	Coordinator *coordinator.Coordinator
}

// NewCore builds the shared components. A redis prefix namespaces queue and progress keys.
func NewCore(cfg *config.Config, store *redisstore.Store, logger *slog.Logger) (*Core, error) {
	specs, err := cfg.Worker.KindSpecs()
	if err != nil {
		return nil, err
	}

	queuePrefix, progressPrefix := "", ""
	if cfg.Redis.Prefix != "" {
		queuePrefix = cfg.Redis.Prefix + ":" + queue.DefaultPrefix
		progressPrefix = cfg.Redis.Prefix + ":" + progress.DefaultPrefix
	}

	q := queue.New(&queue.Config{
		Store:  store,
		Logger: logger,
		Specs:  specs,
		Prefix: queuePrefix,
	})
	tracker := progress.New(&progress.Config{
		Store:     store,
		Logger:    logger,
		Prefix:    progressPrefix,
		Retention: cfg.Progress.Retention,
	})

	return &Core{
		Store:   store,
		Queue:   q,
		Tracker: tracker,
		Coordinator: coordinator.New(&coordinator.Config{
			Queue:   q,
			Tracker: tracker,
			Logger:  logger,
		}),
	}, nil
}

// Handlers returns the job handler of every kind
func Handlers(client *capability.Client, seeder handler.BatchSeeder, logger *slog.Logger) map[domain.Kind]worker.Handler {
	return map[domain.Kind]worker.Handler{
		domain.KindVideoAnalysis:   handler.NewVideo(client, client, logger),
		domain.KindImageAnalysis:   handler.NewImage(client),
		domain.KindScrape:          handler.NewScrape(client),
		domain.KindBatchCoordinate: handler.NewCoordinate(seeder),
	}
}

// NewCapabilityClient creates the analysis and scrape provider client
func NewCapabilityClient(cfg *config.CapabilityConfig, logger *slog.Logger) *capability.Client {
	return capability.NewClient(capability.Config{
		AnalysisURL: cfg.AnalysisURL,
		ScrapeURL:   cfg.ScrapeURL,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.Timeout,
		Logger:      logger,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// RabbitMQConfig maps the service configuration onto the client configuration
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// InitSinks connects every enabled event sink. On error the sinks opened so far are closed.
func InitSinks(cfg *config.Config, logger *slog.Logger) ([]events.Sink, error) {
	var sinks []events.Sink

	if cfg.RabbitMQ.Enabled {
		client, err := rabbitmq.NewClient(RabbitMQConfig(&cfg.RabbitMQ), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		sinks = append(sinks, events.NewRabbitSink(client))
	}

	if cfg.Kafka.Enabled {
		sink, err := events.NewKafkaSink(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, fmt.Errorf("failed to initialize Kafka: %w", err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}
