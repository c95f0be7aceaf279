// Package queue is the job queue component (spec §4.C): named queues for scrape,
// instagram-scrape, match, and schedule jobs, backed by Redis Streams through Watermill's
// redisstream binding, with retry/backoff, panic recovery, and a poison (dead-letter) queue
// for jobs that exhaust their retries.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	TopicScrape          = "scrape-queue"
	TopicInstagramScrape = "instagram-scrape-queue"
	TopicMatch           = "match-queue"
	TopicSchedule        = "schedule-queue"
	TopicExport          = "export-queue"

	poisonQueueTopic = "dlq.eventscrape"
)

// RouterConfig controls the retry/backoff/poison-queue middleware stack.
type RouterConfig struct {
	CloseTimeout         time.Duration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
	PoisonQueueTopic     string
}

// DefaultRouterConfig matches the backoff policy described in spec §4.C ("retries with
// exponential backoff, capped attempts, then the dead-letter queue").
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     2 * time.Minute,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     poisonQueueTopic,
	}
}

// Router wraps a Watermill *message.Router pre-configured with panic recovery, retry/backoff,
// and poison-queue middleware, all driven by Redis Streams.
type Router struct {
	router    *message.Router
	publisher message.Publisher
	rdb       *redis.Client
	logger    watermill.LoggerAdapter
}

// NewRouter builds the router and its Redis Streams publisher. redisURL is the same
// connection string used by internal/streamstore.
func NewRouter(ctx context.Context, redisURL string, cfg RouterConfig, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: rdb}, logger)
	if err != nil {
		return nil, fmt.Errorf("create redisstream publisher: %w", err)
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if cfg.PoisonQueueTopic != "" {
		poison, err := middleware.PoisonQueue(publisher, cfg.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poison)
	}

	return &Router{router: wmRouter, publisher: publisher, rdb: rdb, logger: logger}, nil
}

// subscriber builds a consumer-group subscriber for one topic. Each named queue gets its own
// consumer group so scaling worker replicas fans out within a queue without cross-queue
// contention.
func (r *Router) subscriber(consumerGroup string) (message.Subscriber, error) {
	return redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        r.rdb,
		ConsumerGroup: consumerGroup,
	}, r.logger)
}

// AddConsumerHandler registers a handler with no output topic — the shape every job handler
// in this system uses, since job outcomes are written to the store, not re-published.
func (r *Router) AddConsumerHandler(name, topic string, handler message.NoPublishHandlerFunc) error {
	sub, err := r.subscriber(name + "-group")
	if err != nil {
		return fmt.Errorf("create subscriber for %s: %w", topic, err)
	}
	r.router.AddConsumerHandler(name, topic, sub, handler)
	return nil
}

// Publisher exposes the underlying Watermill publisher for internal/queue's Enqueue helpers.
func (r *Router) Publisher() message.Publisher { return r.publisher }

// Run blocks, processing messages until ctx is canceled.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel that closes once the router has started consuming.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close stops the router and its Redis client.
func (r *Router) Close() error {
	if err := r.router.Close(); err != nil {
		return err
	}
	return r.rdb.Close()
}
