package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"passgate/internal/audit"
	auditmodels "passgate/internal/audit/models"
	"passgate/internal/notify"
	"passgate/internal/pass/models"
	"passgate/internal/permission"
	"passgate/internal/pii"
	"passgate/internal/storage"
	"passgate/internal/storage/memory"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/requestcontext"
)

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

type PassServiceSuite struct {
	suite.Suite
	guard    *pii.Guard
	store    *memory.Store
	notifier *recordingNotifier
	service  *Service
	admin    permission.Actor
	hr       permission.Actor
	guardian permission.Actor
}

func TestPassServiceSuite(t *testing.T) {
	suite.Run(t, new(PassServiceSuite))
}

func (s *PassServiceSuite) SetupSuite() {
	guard, err := pii.New("pass-service-test")
	s.Require().NoError(err)
	s.guard = guard
}

func (s *PassServiceSuite) SetupTest() {
	s.store = memory.New()
	s.notifier = &recordingNotifier{}
	recorder := audit.NewRecorder()
	engine := permission.NewEngine(permission.DefaultPolicy(), s.store, recorder)
	s.service = New(s.store, engine, recorder, NewLifecycle(recorder), s.guard, WithNotifier(s.notifier))
	s.admin = permission.Actor{UserID: id.UserID(uuid.New()), Role: permission.RoleAdmin, Active: true}
	s.hr = permission.Actor{UserID: id.UserID(uuid.New()), Role: permission.RoleHR, Active: true}
	s.guardian = permission.Actor{UserID: id.UserID(uuid.New()), Role: permission.RoleGuard, Active: true}
}

func (s *PassServiceSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *PassServiceSuite) issue(actor permission.Actor, status models.Status) *PassSummary {
	summary, err := s.service.Issue(s.ctxAt(t0), actor, IssueRequest{
		HolderName:  "Grace Hopper",
		HolderOrg:   "Navy",
		HolderEmail: "grace@example.com",
		HolderPhone: "+1 555 0100",
		ValidFrom:   t0,
		ValidUntil:  t0.Add(8 * time.Hour),
		Status:      status,
	})
	s.Require().NoError(err)
	return summary
}

func (s *PassServiceSuite) stored(passID id.PassID) *models.Pass {
	var pass *models.Pass
	s.Require().NoError(s.store.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		var err error
		pass, err = stores.Passes.FindByID(ctx, passID)
		return err
	}))
	return pass
}

func (s *PassServiceSuite) actions(passID id.PassID) []auditmodels.Action {
	var out []auditmodels.Action
	for _, e := range auditFor(s.T(), s.store, passID.String()) {
		out = append(out, e.Action)
	}
	return out
}

func (s *PassServiceSuite) TestIssue() {
	summary := s.issue(s.hr, "")

	s.Len(summary.Token, 43)
	s.Equal(models.StatusActive, summary.Status)
	s.Equal(s.hr.UserID, summary.IssuedBy)
	s.Equal("g***@example.com", summary.HolderEmail, "hr lacks view_sensitive_data")

	stored := s.stored(summary.ID)
	s.Equal(summary.Token, stored.Token)
	s.True(pii.IsProtected(stored.HolderEmail))
	s.True(pii.IsProtected(stored.HolderPhone))
	s.NotContains(stored.HolderEmail, "grace")

	s.Equal([]auditmodels.Action{auditmodels.ActionCreate}, s.actions(summary.ID))
	entry := auditFor(s.T(), s.store, summary.ID.String())[0]
	s.NotContains(string(entry.Changes), "grace@example.com")

	s.Require().Len(s.notifier.events, 1)
	s.Equal(notify.KindPassCreated, s.notifier.events[0].Kind)
	s.Equal(summary.ID, s.notifier.events[0].PassID)
}

func (s *PassServiceSuite) TestIssueValidation() {
	cases := map[string]IssueRequest{
		"missing name":    {ValidUntil: t0.Add(time.Hour)},
		"missing until":   {HolderName: "Ada"},
		"inverted window": {HolderName: "Ada", ValidFrom: t0.Add(time.Hour), ValidUntil: t0},
		"bad status":      {HolderName: "Ada", ValidUntil: t0.Add(time.Hour), Status: models.StatusRevoked},
	}
	for name, req := range cases {
		_, err := s.service.Issue(s.ctxAt(t0), s.admin, req)
		s.Error(err, name)
		s.False(dErrors.HasCode(err, dErrors.CodeInternal), name)
	}
}

func (s *PassServiceSuite) TestIssueForbiddenForGuard() {
	_, err := s.service.Issue(s.ctxAt(t0), s.guardian, IssueRequest{HolderName: "Ada", ValidUntil: t0.Add(time.Hour)})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Empty(s.notifier.events)
}

func (s *PassServiceSuite) TestActivate() {
	summary := s.issue(s.admin, models.StatusPending)

	activated, err := s.service.Activate(s.ctxAt(t0.Add(time.Minute)), s.hr, summary.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, activated.Status)
	s.Equal([]auditmodels.Action{auditmodels.ActionCreate, auditmodels.ActionActivate}, s.actions(summary.ID))

	_, err = s.service.Activate(s.ctxAt(t0.Add(2*time.Minute)), s.hr, summary.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *PassServiceSuite) TestRevokeThenRevokeAgain() {
	summary := s.issue(s.admin, models.StatusActive)

	revoked, err := s.service.Revoke(s.ctxAt(t0.Add(time.Hour)), s.admin, summary.ID, "lost badge")
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, revoked.Status)
	s.Empty(revoked.Warning)

	again, err := s.service.Revoke(s.ctxAt(t0.Add(2*time.Hour)), s.admin, summary.ID, "")
	s.Require().NoError(err)
	s.Equal(string(dErrors.CodeInvalidState), again.Warning)

	s.Equal([]auditmodels.Action{auditmodels.ActionCreate, auditmodels.ActionRevoke}, s.actions(summary.ID))
	entries := auditFor(s.T(), s.store, summary.ID.String())
	var payload map[string]any
	s.Require().NoError(json.Unmarshal(entries[1].Changes, &payload))
	s.Equal("lost badge", payload["reason"])
}

func (s *PassServiceSuite) TestRevokeAfterWindowExpiresInstead() {
	summary := s.issue(s.admin, models.StatusActive)

	result, err := s.service.Revoke(s.ctxAt(t0.Add(9*time.Hour)), s.admin, summary.ID, "")
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, result.Status)
	s.Equal(string(dErrors.CodeInvalidState), result.Warning)
	s.Equal([]auditmodels.Action{auditmodels.ActionCreate, auditmodels.ActionPassExpired}, s.actions(summary.ID))
}

func (s *PassServiceSuite) TestRevokeRequiresPermission() {
	summary := s.issue(s.admin, models.StatusActive)

	_, err := s.service.Revoke(s.ctxAt(t0), s.hr, summary.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Equal(models.StatusActive, s.stored(summary.ID).Status)
}

func (s *PassServiceSuite) TestGetRevealsContactOnlyWithSensitivePermission() {
	summary := s.issue(s.admin, models.StatusActive)

	full, err := s.service.Get(s.ctxAt(t0), s.admin, summary.ID)
	s.Require().NoError(err)
	s.Equal("grace@example.com", full.HolderEmail)
	s.Equal("+1 555 0100", full.HolderPhone)
	s.Empty(full.Token)

	masked, err := s.service.Get(s.ctxAt(t0), s.guardian, summary.ID)
	s.Require().NoError(err)
	s.Equal("g***@example.com", masked.HolderEmail)
	s.Equal("***00", masked.HolderPhone)
}

func (s *PassServiceSuite) TestGetPersistsExpiry() {
	summary := s.issue(s.admin, models.StatusActive)

	got, err := s.service.Get(s.ctxAt(t0.Add(9*time.Hour)), s.guardian, summary.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, got.Status)
	s.Equal(models.StatusExpired, s.stored(summary.ID).Status)
}

func (s *PassServiceSuite) TestGetUnknownPass() {
	_, err := s.service.Get(s.ctxAt(t0), s.admin, id.NewPassID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
