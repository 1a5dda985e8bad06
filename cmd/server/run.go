package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"passgate/internal/audit"
	audithandler "passgate/internal/audit/handler"
	auditmetrics "passgate/internal/audit/metrics"
	auditservice "passgate/internal/audit/service"
	"passgate/internal/compliance"
	compliancemetrics "passgate/internal/compliance/metrics"
	"passgate/internal/notify"
	notifymetrics "passgate/internal/notify/metrics"
	passhandler "passgate/internal/pass/handler"
	passmetrics "passgate/internal/pass/metrics"
	passservice "passgate/internal/pass/service"
	"passgate/internal/permission"
	permissionmetrics "passgate/internal/permission/metrics"
	"passgate/internal/pii"
	"passgate/internal/platform/config"
	"passgate/internal/platform/httpserver"
	"passgate/internal/platform/metrics"
	platformredis "passgate/internal/platform/redis"
	"passgate/internal/presence"
	presencehandler "passgate/internal/presence/handler"
	presencemetrics "passgate/internal/presence/metrics"
	scanhandler "passgate/internal/scan/handler"
	scanmetrics "passgate/internal/scan/metrics"
	scanservice "passgate/internal/scan/service"
	httptransport "passgate/internal/transport/http"
	"passgate/pkg/platform/middleware/auth"
)

const shutdownTimeout = 15 * time.Second

// run wires every component and blocks until ctx is cancelled or the HTTP
// server fails. The notification dispatcher outlives the server so events
// queued by in-flight requests are still delivered.
func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	store, err := openStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(); err != nil {
			log.Warn("failed to close store", "error", err)
		}
	}()

	policy := permission.DefaultPolicy()
	if cfg.PolicyPath != "" {
		if policy, err = permission.LoadPolicy(cfg.PolicyPath); err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
	}

	guardOpts := []pii.Option{pii.WithLogger(log)}
	if cfg.PII.Strict {
		guardOpts = append(guardOpts, pii.WithPolicy(pii.Strict))
	}
	guard, err := pii.New(cfg.PII.Secret, guardOpts...)
	if err != nil {
		return fmt.Errorf("init pii guard: %w", err)
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sink, err := openSink(ctx, cfg.Notifications, redisClient, log)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(sink,
		notify.WithBufferSize(cfg.Notifications.BufferSize),
		notify.WithLogger(log),
		notify.WithMetrics(notifymetrics.New()),
	)

	auditMetrics := auditmetrics.New()
	recorder := audit.NewRecorder(audit.WithLogger(log), audit.WithMetrics(auditMetrics))
	engine := permission.NewEngine(policy, store.tx, recorder,
		permission.WithLogger(log),
		permission.WithMetrics(permissionmetrics.New()),
	)

	passMetrics := passmetrics.New()
	lifecycle := passservice.NewLifecycle(recorder,
		passservice.WithLifecycleLogger(log),
		passservice.WithLifecycleMetrics(passMetrics),
	)
	tracker := presence.NewTracker(recorder,
		presence.WithLogger(log),
		presence.WithMetrics(presencemetrics.New()),
	)
	passes := passservice.New(store.tx, engine, recorder, lifecycle, guard,
		passservice.WithLogger(log),
		passservice.WithMetrics(passMetrics),
		passservice.WithNotifier(dispatcher),
	)
	scans := scanservice.New(store.tx, engine, recorder, lifecycle, tracker,
		scanservice.WithLogger(log),
		scanservice.WithMetrics(scanmetrics.New()),
		scanservice.WithNotifier(dispatcher),
	)
	audits := auditservice.New(store.tx, engine,
		auditservice.WithLogger(log),
		auditservice.WithMetrics(auditMetrics),
	)

	complianceMetrics := compliancemetrics.New()
	scheduler := compliance.NewScheduler(cfg.Compliance.Interval, []compliance.Job{
		compliance.NewRetention(store.tx, audits, recorder, cfg.Compliance.Retention, cfg.Compliance.BatchSize,
			compliance.WithRetentionLogger(log),
			compliance.WithRetentionMetrics(complianceMetrics),
		),
		compliance.NewExpiryReminder(store.tx, recorder, dispatcher, cfg.Compliance.ReminderHorizon, cfg.Compliance.BatchSize,
			compliance.WithReminderLogger(log),
			compliance.WithReminderMetrics(complianceMetrics),
		),
	}, compliance.WithLogger(log), compliance.WithMetrics(complianceMetrics))

	health := map[string]httptransport.HealthCheck{"store": store.health}
	if redisClient != nil {
		health["redis"] = redisClient.Health
	}
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:       log,
		Metrics:      metrics.New(),
		Validator:    auth.NewHS256Validator(cfg.JWTSigningKey, cfg.JWTIssuer),
		MetricsToken: cfg.MetricsToken,
		Health:       health,
		Handlers: []httptransport.Registrar{
			scanhandler.New(scans, log),
			passhandler.New(passes, log),
			presencehandler.New(presence.NewService(store.tx, engine, tracker), log),
			audithandler.New(audits, log),
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})
	g.Go(func() error {
		log.Info("starting passgate",
			"addr", cfg.Addr,
			"db_driver", cfg.DB.Driver,
			"notify_sink", cfg.Notifications.Sink,
			"roles", len(policy.Roles()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start(gctx)
		<-gctx.Done()
		scheduler.Stop()

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopDispatch()
		return err
	})
	return g.Wait()
}
