package compliance

import (
	"context"
	"log/slog"
	"time"

	"passgate/internal/audit"
	auditmodels "passgate/internal/audit/models"
	"passgate/internal/compliance/metrics"
	"passgate/internal/storage"
	dErrors "passgate/pkg/domain-errors"
)

// Anonymizer is the audit trail's retention hook.
type Anonymizer interface {
	Anonymize(ctx context.Context, olderThan time.Time, batch int) (int, error)
}

// Retention anonymizes audit entries and erases pass contact fields once
// they are older than the retention window.
type Retention struct {
	tx         storage.Tx
	anonymizer Anonymizer
	recorder   *audit.Recorder
	window     time.Duration
	batch      int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type RetentionOption func(*Retention)

func WithRetentionLogger(logger *slog.Logger) RetentionOption {
	return func(r *Retention) {
		r.logger = logger
	}
}

func WithRetentionMetrics(m *metrics.Metrics) RetentionOption {
	return func(r *Retention) {
		r.metrics = m
	}
}

func NewRetention(tx storage.Tx, anonymizer Anonymizer, recorder *audit.Recorder, window time.Duration, batch int, opts ...RetentionOption) *Retention {
	r := &Retention{
		tx:         tx,
		anonymizer: anonymizer,
		recorder:   recorder,
		window:     window,
		batch:      batch,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retention) Name() string { return "retention" }

func (r *Retention) Run(ctx context.Context, now time.Time) error {
	if r.window <= 0 {
		return nil
	}
	cutoff := now.Add(-r.window)
	if _, err := r.anonymizer.Anonymize(ctx, cutoff, r.batch); err != nil {
		return err
	}
	scrubbed, err := r.scrubContacts(ctx, cutoff, now)
	if scrubbed > 0 {
		r.logger.InfoContext(ctx, "pass contact fields scrubbed",
			"count", scrubbed,
			"ended_before", cutoff,
		)
	}
	return err
}

// contactScrub is the PII_SCRUBBED audit payload. It names the erased
// fields, never their values.
type contactScrub struct {
	Fields     []string  `json:"fields"`
	ValidUntil time.Time `json:"valid_until"`
}

func (r *Retention) scrubContacts(ctx context.Context, cutoff, now time.Time) (int, error) {
	if r.batch <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "batch size must be positive")
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, dErrors.Wrap(err, dErrors.CodeTimeout, "contact scrub interrupted")
		}
		var n, seen int
		err := r.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
			n = 0
			passes, err := stores.Passes.ListEndedBefore(ctx, cutoff, r.batch)
			if err != nil {
				return err
			}
			seen = len(passes)
			for _, pass := range passes {
				applied, err := stores.Passes.ScrubContact(ctx, pass.ID, now)
				if err != nil {
					return err
				}
				if !applied {
					continue
				}
				var fields []string
				if pass.HolderEmail != "" {
					fields = append(fields, "holder_email")
				}
				if pass.HolderPhone != "" {
					fields = append(fields, "holder_phone")
				}
				if _, err := r.recorder.Record(ctx, stores.Audit, audit.Record{
					Action:     auditmodels.ActionPIIScrubbed,
					EntityType: auditmodels.EntityPass,
					EntityID:   pass.ID.String(),
					Payload:    contactScrub{Fields: fields, ValidUntil: pass.ValidUntil},
					At:         now,
				}); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return total, storage.Translate(err, "failed to scrub pass contacts")
		}
		total += n
		if r.metrics != nil {
			r.metrics.AddScrubbed(n)
		}
		if seen < r.batch || n == 0 {
			return total, nil
		}
	}
}
