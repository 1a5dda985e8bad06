package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"passgate/internal/platform/config"
	"passgate/internal/platform/logger"
)

// main reads configuration, applies flag overrides and hands off to run.
// Business logic lives in internal service packages.
func main() {
	cfg := config.FromEnv()

	flags := pflag.NewFlagSet("passgate", pflag.ExitOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flags.StringVar(&cfg.DB.Driver, "db-driver", cfg.DB.Driver, "postgres, sqlite or memory")
	flags.StringVar(&cfg.DB.DSN, "db-dsn", cfg.DB.DSN, "Postgres DSN or SQLite file path")
	flags.StringVar(&cfg.PolicyPath, "policy", cfg.PolicyPath, "YAML role policy; empty uses the built-in table")
	flags.StringVar(&cfg.Notifications.Sink, "notify-sink", cfg.Notifications.Sink, "log, kafka or redis")
	flags.StringSliceVar(&cfg.Notifications.KafkaBrokers, "kafka-brokers", cfg.Notifications.KafkaBrokers, "Kafka seed brokers")
	flags.StringVar(&cfg.Redis.URL, "redis-url", cfg.Redis.URL, "Redis URL for the redis notification sink")
	flags.BoolVar(&cfg.PII.Strict, "pii-strict", cfg.PII.Strict, "fail requests on contact decryption errors")
	flags.DurationVar(&cfg.Compliance.Interval, "compliance-interval", cfg.Compliance.Interval, "how often compliance jobs run")
	flags.DurationVar(&cfg.Compliance.Retention, "retention", cfg.Compliance.Retention, "audit and contact retention window")
	_ = flags.Parse(os.Args[1:])

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("passgate exited", "error", err)
		os.Exit(1)
	}
}
