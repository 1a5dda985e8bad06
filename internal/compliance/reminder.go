package compliance

import (
	"context"
	"log/slog"
	"time"

	"passgate/internal/audit"
	auditmodels "passgate/internal/audit/models"
	"passgate/internal/compliance/metrics"
	"passgate/internal/notify"
	"passgate/internal/storage"
)

// Notifier accepts advisory events after commit.
type Notifier interface {
	Enqueue(evt notify.Event) bool
}

// ExpiryReminder queues one pass_expiring event per active pass whose window
// ends within the horizon. expiry_notified_at makes it once per pass.
type ExpiryReminder struct {
	tx       storage.Tx
	recorder *audit.Recorder
	notifier Notifier
	horizon  time.Duration
	batch    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type ReminderOption func(*ExpiryReminder)

func WithReminderLogger(logger *slog.Logger) ReminderOption {
	return func(e *ExpiryReminder) {
		e.logger = logger
	}
}

func WithReminderMetrics(m *metrics.Metrics) ReminderOption {
	return func(e *ExpiryReminder) {
		e.metrics = m
	}
}

func NewExpiryReminder(tx storage.Tx, recorder *audit.Recorder, notifier Notifier, horizon time.Duration, batch int, opts ...ReminderOption) *ExpiryReminder {
	e := &ExpiryReminder{
		tx:       tx,
		recorder: recorder,
		notifier: notifier,
		horizon:  horizon,
		batch:    batch,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ExpiryReminder) Name() string { return "expiry_reminder" }

// Run handles one batch per call; a backlog drains over consecutive runs.
func (e *ExpiryReminder) Run(ctx context.Context, now time.Time) error {
	if e.horizon <= 0 || e.batch <= 0 {
		return nil
	}
	var events []notify.Event
	err := e.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		events = events[:0]
		passes, err := stores.Passes.ListExpiring(ctx, now, now.Add(e.horizon), e.batch)
		if err != nil {
			return err
		}
		for _, pass := range passes {
			applied, err := stores.Passes.MarkExpiryNotified(ctx, pass.ID, now)
			if err != nil {
				return err
			}
			if !applied {
				continue
			}
			if _, err := e.recorder.Record(ctx, stores.Audit, audit.Record{
				Action:     auditmodels.ActionExpiryNotified,
				EntityType: auditmodels.EntityPass,
				EntityID:   pass.ID.String(),
				Payload:    map[string]any{"valid_until": pass.ValidUntil},
				At:         now,
			}); err != nil {
				return err
			}
			events = append(events, notify.NewEvent(notify.KindPassExpiring, pass.ID, now, map[string]any{
				"holder_name": pass.HolderName,
				"valid_until": pass.ValidUntil,
			}))
		}
		return nil
	})
	if err != nil {
		return storage.Translate(err, "failed to queue expiry reminders")
	}

	for _, evt := range events {
		if e.notifier != nil && e.notifier.Enqueue(evt) && e.metrics != nil {
			e.metrics.IncrementReminder()
		}
	}
	if len(events) > 0 {
		e.logger.InfoContext(ctx, "expiry reminders queued", "count", len(events))
	}
	return nil
}
