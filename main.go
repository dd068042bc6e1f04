package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"imagetotext/pkg/apperr"
	"imagetotext/pkg/cache"
	"imagetotext/pkg/config"
	"imagetotext/pkg/metrics"
	"imagetotext/pkg/ocr"
	"imagetotext/pkg/queue"
	"imagetotext/pkg/telegram"
	"imagetotext/pkg/worker"
)

// exitConfig follows sysexits EX_CONFIG
const exitConfig = 78

func setupLogger(level slog.Level) *slog.Logger {
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if err, ok := a.Value.Any().(error); ok {
					aErr := tint.Err(err)
					aErr.Key = a.Key
					return aErr
				}
				return a
			},
		}),
	)
	slog.SetDefault(logger)
	return logger
}

func main() {
	logger := setupLogger(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(exitConfig)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger = setupLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Shut down complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()

	// One pooled client shared by both external services
	httpClient := &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}

	store, closeStore, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	resolver, err := telegram.NewResolver(httpClient, telegram.Config{
		Token:   cfg.TelegramBotToken,
		APIURL:  cfg.TelegramAPIURL,
		Timeout: cfg.TelegramTimeout,
	}, logger)
	if err != nil {
		return err
	}

	extractor := ocr.NewExtractor(httpClient, ocr.OCRConfig{
		Endpoint: cfg.OCREndpoint,
		APIKey:   cfg.GoogleVisionAPIKey,
		Timeout:  cfg.OCRTimeout,
	}, store, logger)
	extractor.SetCacheRecorder(m)

	mq, err := queue.DialWithRetry(ctx, cfg.RabbitAddress, cfg.BrokerConnectAttempts, cfg.BrokerConnectBackoff, logger)
	if err != nil {
		return err
	}
	defer mq.Close()
	logger.Info("Connected to RabbitMQ")

	if cfg.DeclareQueues {
		if err := mq.DeclareQueue(cfg.DeadLetterQueue, nil); err != nil {
			return err
		}
		if err := mq.DeclareQueue(cfg.ReplyQueue, nil); err != nil {
			return err
		}
		if err := mq.DeclareQueue(cfg.InputQueue, queue.DeadLetterArgs(cfg.DeadLetterQueue)); err != nil {
			return err
		}
	}

	deliveries, err := mq.Consume(cfg.InputQueue, cfg.ConsumerTag)
	if err != nil {
		return err
	}
	logger.Info("Consuming", "queue", cfg.InputQueue, "reply_queue", cfg.ReplyQueue, "dead_letter_queue", cfg.DeadLetterQueue)

	w := worker.NewOCRWorker(resolver, extractor, mq, worker.Config{
		ReplyQueue:     cfg.ReplyQueue,
		PublishTimeout: cfg.PublishTimeout,
	}, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx, deliveries)
	})
	g.Go(func() error {
		select {
		case amqpErr, ok := <-mq.NotifyClose():
			if ok && amqpErr != nil {
				return apperr.Transport("rabbitmq connection", amqpErr)
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr, m, logger)
		})
	}
	return g.Wait()
}

func newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, func(), error) {
	if cfg.CacheDisabled {
		logger.Info("OCR cache disabled")
		return nil, func() {}, nil
	}
	if cfg.RedisURL == "" {
		logger.Info("Using in-memory OCR cache", "ttl", cfg.CacheTTL)
		return cache.NewInMemoryCache(cfg.CacheTTL), func() {}, nil
	}

	rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL, "ocr")
	if err != nil {
		return nil, nil, apperr.Transport("redis connect", err)
	}
	logger.Info("Using Redis OCR cache", "ttl", cfg.CacheTTL)
	return rc, func() { rc.Close() }, nil
}
