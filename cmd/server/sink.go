package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"passgate/internal/notify"
	"passgate/internal/notify/kafka"
	notifyredis "passgate/internal/notify/redis"
	"passgate/internal/platform/config"
	platformredis "passgate/internal/platform/redis"
)

func openSink(ctx context.Context, cfg config.NotificationConfig, redisClient *platformredis.Client, logger *slog.Logger) (notify.Sink, error) {
	switch cfg.Sink {
	case "", "log":
		return notify.NewLogSink(logger), nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("kafka sink needs PASSGATE_KAFKA_BROKERS")
		}
		sink, err := kafka.New(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("open kafka sink: %w", err)
		}
		return sink, nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis sink needs PASSGATE_REDIS_URL")
		}
		return notifyredis.New(redisClient.Client, cfg.RedisStream), nil
	default:
		return nil, fmt.Errorf("unknown notification sink %q", cfg.Sink)
	}
}
