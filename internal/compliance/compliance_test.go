package compliance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"passgate/internal/audit"
	"passgate/internal/audit/chain"
	auditmodels "passgate/internal/audit/models"
	auditservice "passgate/internal/audit/service"
	"passgate/internal/notify"
	passmodels "passgate/internal/pass/models"
	"passgate/internal/permission"
	"passgate/internal/storage"
	"passgate/internal/storage/memory"
	id "passgate/pkg/domain"
)

var now = time.Date(2027, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Enqueue(evt notify.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return true
}

type ComplianceSuite struct {
	suite.Suite
	store    *memory.Store
	recorder *audit.Recorder
	audit    *auditservice.Service
}

func TestComplianceSuite(t *testing.T) {
	suite.Run(t, new(ComplianceSuite))
}

func (s *ComplianceSuite) SetupTest() {
	s.store = memory.New()
	s.recorder = audit.NewRecorder()
	engine := permission.NewEngine(permission.DefaultPolicy(), s.store, s.recorder)
	s.audit = auditservice.New(s.store, engine)
}

func (s *ComplianceSuite) seed(status passmodels.Status, from, until time.Time, withContact bool) *passmodels.Pass {
	pass, err := passmodels.NewPass(id.NewPassID(), uuid.NewString(), "Ada Lovelace", status, from, until, id.UserID(uuid.New()), from)
	s.Require().NoError(err)
	if withContact {
		pass.HolderEmail = "enc:v1:ciphertext-email"
		pass.HolderPhone = "enc:v1:ciphertext-phone"
	}
	actor := pass.IssuedBy
	s.Require().NoError(s.store.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		if err := stores.Passes.Create(ctx, pass); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, stores.Audit, audit.Record{
			Actor:      &actor,
			Action:     auditmodels.ActionCreate,
			EntityType: auditmodels.EntityPass,
			EntityID:   pass.ID.String(),
			After:      pass.Snapshot(),
			At:         from,
		})
		return err
	}))
	return pass
}

func (s *ComplianceSuite) stored(passID id.PassID) *passmodels.Pass {
	var pass *passmodels.Pass
	s.Require().NoError(s.store.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		var err error
		pass, err = stores.Passes.FindByID(ctx, passID)
		return err
	}))
	return pass
}

func (s *ComplianceSuite) entries(passID id.PassID) []*auditmodels.Entry {
	var out []*auditmodels.Entry
	s.Require().NoError(s.store.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		var err error
		out, err = stores.Audit.List(ctx, auditmodels.Filter{EntityType: auditmodels.EntityPass, EntityID: passID.String()})
		return err
	}))
	return out
}

func (s *ComplianceSuite) TestRetentionAnonymizesAndScrubs() {
	retention := 365 * 24 * time.Hour
	var old []*passmodels.Pass
	for i := 0; i < 5; i++ {
		from := now.Add(-2 * retention).Add(time.Duration(i) * time.Hour)
		old = append(old, s.seed(passmodels.StatusActive, from, from.Add(8*time.Hour), true))
	}
	recent := s.seed(passmodels.StatusActive, now.Add(-time.Hour), now.Add(time.Hour), true)
	noContact := s.seed(passmodels.StatusActive, now.Add(-2*retention), now.Add(-2*retention+time.Hour), false)

	job := NewRetention(s.store, s.audit, s.recorder, retention, 2)
	s.Require().NoError(job.Run(context.Background(), now))

	for _, pass := range old {
		stored := s.stored(pass.ID)
		s.Empty(stored.HolderEmail)
		s.Empty(stored.HolderPhone)
		s.Require().NotNil(stored.ContactScrubbedAt)

		entries := s.entries(pass.ID)
		s.Require().Len(entries, 2)
		s.Nil(entries[0].ActorID, "old CREATE entry anonymized")
		s.NotNil(entries[0].AnonymizedAt)
		s.Equal(auditmodels.ActionPIIScrubbed, entries[1].Action)
		s.NotContains(string(entries[1].Changes), "ciphertext")
		s.True(chain.Verify(entries).Valid)
	}

	s.Equal("enc:v1:ciphertext-email", s.stored(recent.ID).HolderEmail)
	s.NotNil(s.entries(recent.ID)[0].ActorID)
	s.Nil(s.stored(noContact.ID).ContactScrubbedAt)
	s.Len(s.entries(noContact.ID), 1)

	s.Require().NoError(job.Run(context.Background(), now.Add(time.Hour)))
	s.Len(s.entries(old[0].ID), 2, "second run is a no-op")
}

func (s *ComplianceSuite) TestRetentionDisabled() {
	pass := s.seed(passmodels.StatusActive, now.Add(-1000*24*time.Hour), now.Add(-999*24*time.Hour), true)
	s.Require().NoError(NewRetention(s.store, s.audit, s.recorder, 0, 10).Run(context.Background(), now))
	s.NotEmpty(s.stored(pass.ID).HolderEmail)
}

func (s *ComplianceSuite) TestExpiryReminderOncePerPass() {
	soon := s.seed(passmodels.StatusActive, now.Add(-time.Hour), now.Add(12*time.Hour), false)
	later := s.seed(passmodels.StatusActive, now.Add(-time.Hour), now.Add(48*time.Hour), false)
	pending := s.seed(passmodels.StatusPending, now.Add(-time.Hour), now.Add(6*time.Hour), false)

	notifier := &recordingNotifier{}
	job := NewExpiryReminder(s.store, s.recorder, notifier, 24*time.Hour, 50)

	s.Require().NoError(job.Run(context.Background(), now))
	s.Require().Len(notifier.events, 1)
	s.Equal(notify.KindPassExpiring, notifier.events[0].Kind)
	s.Equal(soon.ID, notifier.events[0].PassID)
	s.NotNil(s.stored(soon.ID).ExpiryNotifiedAt)

	entries := s.entries(soon.ID)
	s.Equal(auditmodels.ActionExpiryNotified, entries[len(entries)-1].Action)
	s.Len(s.entries(later.ID), 1)
	s.Len(s.entries(pending.ID), 1)

	s.Require().NoError(job.Run(context.Background(), now.Add(time.Hour)))
	s.Len(notifier.events, 1)
}

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	ran   chan time.Time
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(_ context.Context, at time.Time) error {
	j.runs.Add(1)
	if j.ran != nil {
		j.ran <- at
	}
	return j.err
}

func TestSchedulerRunsImmediatelyAndStops(t *testing.T) {
	job := &countingJob{name: "count", ran: make(chan time.Time, 1)}
	sched := NewScheduler(time.Hour, []Job{job}, WithClock(func() time.Time { return now }))

	sched.Start(context.Background())
	sched.Start(context.Background())

	select {
	case at := <-job.ran:
		assert.True(t, at.Equal(now))
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
	sched.Stop()
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	NewScheduler(0, nil).Stop()
}

func TestSchedulerFailingJobDoesNotStopOthers(t *testing.T) {
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	next := &countingJob{name: "next"}
	sched := NewScheduler(time.Hour, []Job{failing, next})

	sched.RunOnce(context.Background())

	require.Equal(t, int32(1), failing.runs.Load())
	require.Equal(t, int32(1), next.runs.Load())
}
