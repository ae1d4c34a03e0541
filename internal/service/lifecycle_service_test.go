package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/repository/memory"
	"debtapproval/internal/routing"
	"debtapproval/internal/service"
	"debtapproval/internal/service/mocks"
	"debtapproval/internal/workflow"
	"debtapproval/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	ctx       context.Context
	store     *memory.Store
	repos     *repository.Repositories
	messenger *mocks.Messenger
	notifier  *service.Notifier
	router    routing.Router
	lifecycle service.LifecycleService
	blocks    service.BlockService

	brand  model.Brand
	branch model.Branch
	agent  model.Agent
	admin  model.User
	author model.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logger.Discard()
	store := memory.NewStore()
	e := &env{
		ctx:       context.Background(),
		store:     store,
		repos:     store.Repositories(),
		messenger: (&mocks.Messenger{}).AcceptAll(),
	}
	e.router = routing.NewRouter(e.repos, log)
	e.notifier = service.NewNotifier(e.messenger, log)
	e.lifecycle = service.NewLifecycleService(e.repos, e.router, e.notifier, log)
	e.blocks = service.NewBlockService(e.repos, log)

	e.brand = model.Brand{Name: "Pepsi", Active: true}
	require.NoError(t, e.repos.Org.CreateBrand(e.ctx, &e.brand))
	e.branch = model.Branch{BrandID: e.brand.ID, Name: "Samarkand", Active: true}
	require.NoError(t, e.repos.Org.CreateBranch(e.ctx, &e.branch))
	e.agent = e.newAgent(t, "Axmadjonov Mashxurbek")

	e.admin = e.user(t, "admin", model.RoleAdmin)
	e.author = e.user(t, "author", model.RoleCreator)
	return e
}

func (e *env) newAgent(t *testing.T, name string) model.Agent {
	t.Helper()
	a := model.Agent{BrandID: e.brand.ID, BranchID: e.branch.ID, Name: name, Active: true}
	require.NoError(t, e.repos.Org.CreateAgent(e.ctx, &a))
	return a
}

func (e *env) user(t *testing.T, name string, role model.Role) model.User {
	t.Helper()
	u := model.User{Username: name, Role: role, Active: true}
	require.NoError(t, e.repos.Users.Create(e.ctx, &u))
	return u
}

func (e *env) scope(a model.Agent) model.Scope {
	return model.Scope{BrandID: e.brand.ID, BranchID: e.branch.ID, AgentID: a.ID}
}

func (e *env) create(t *testing.T, typ model.RequestType) *model.Request {
	t.Helper()
	res, err := e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID:  e.author.ID,
		Type:       typ,
		Scope:      e.scope(e.agent),
		Period:     "2026-03",
		ReportText: "March write-off",
	})
	require.NoError(t, err)
	return res.Request
}

func (e *env) act(actor model.User, req *model.Request, action workflow.Action) (*service.ActionResult, error) {
	return e.lifecycle.Transition(e.ctx, service.TransitionInput{
		RequestID:      req.ID,
		ActorID:        actor.ID,
		Action:         action,
		ExpectedStatus: req.Status,
	})
}

func TestNormalRequestWalksEveryStage(t *testing.T) {
	e := newEnv(t)
	cashier := e.user(t, "cashier", model.RoleCashier)
	operator := e.user(t, "operator", model.RoleOperator)
	supervisor := e.user(t, "supervisor", model.RoleSupervisor)

	req := e.create(t, model.RequestTypeNormal)
	assert.Equal(t, model.StatusPendingApproval, req.Status)
	assert.Equal(t, "R-202603-00001", req.UID)
	require.NotNil(t, req.CurrentApproverID)
	assert.Equal(t, cashier.ID, *req.CurrentApproverID)

	for _, actor := range []model.User{cashier, operator, supervisor} {
		res, err := e.act(actor, req, workflow.ActionApprove)
		require.NoError(t, err, actor.Username)
		req = res.Request
		assert.False(t, req.Locked)
	}
	assert.Equal(t, model.StatusFinalApproved, req.Status)
	assert.Nil(t, req.CurrentApproverID)

	detail, err := e.lifecycle.Get(e.ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Records, 3)
	assert.Equal(t, workflow.BucketFinalApproved, detail.Bucket)

	logs, _, err := e.repos.Audit.List(e.ctx, repository.AuditFilter{Action: model.ActionFinalizeRequest})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].UserID)
}

func TestConcurrentCashierApprovalsOnlyOneWins(t *testing.T) {
	e := newEnv(t)
	c1 := e.user(t, "cashier-1", model.RoleCashier)
	c2 := e.user(t, "cashier-2", model.RoleCashier)
	e.user(t, "operator", model.RoleOperator)
	req := e.create(t, model.RequestTypeNormal)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []model.User{c1, c2} {
		wg.Add(1)
		go func(i int, actor model.User) {
			defer wg.Done()
			_, errs[i] = e.act(actor, req, workflow.ActionApprove)
		}(i, actor)
	}
	wg.Wait()

	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperror.Is(err, apperror.KindStaleState):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, stale)

	detail, err := e.lifecycle.Get(e.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApprovedByCashier, detail.Request.Status)
	assert.False(t, detail.Request.Locked)
	assert.Len(t, detail.Records, 1)
}

func TestReapprovingAnAdvancedStageIsStale(t *testing.T) {
	e := newEnv(t)
	cashier := e.user(t, "cashier", model.RoleCashier)
	e.user(t, "operator", model.RoleOperator)
	req := e.create(t, model.RequestTypeNormal)

	_, err := e.act(cashier, req, workflow.ActionApprove)
	require.NoError(t, err)

	_, err = e.lifecycle.Transition(e.ctx, service.TransitionInput{RequestID: req.ID, ActorID: cashier.ID, Action: workflow.ActionApprove})
	assert.True(t, apperror.Is(err, apperror.KindStaleState), "got %v", err)

	_, err = e.act(cashier, req, workflow.ActionApprove)
	assert.True(t, apperror.Is(err, apperror.KindStaleState), "got %v", err)
}

func TestOutOfStageActorIsNotEligible(t *testing.T) {
	e := newEnv(t)
	e.user(t, "cashier", model.RoleCashier)
	operator := e.user(t, "operator", model.RoleOperator)
	req := e.create(t, model.RequestTypeNormal)

	_, err := e.act(operator, req, workflow.ActionApprove)
	assert.True(t, apperror.Is(err, apperror.KindNotEligible), "got %v", err)

	detail, err := e.lifecycle.Get(e.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, detail.Request.Status)
	assert.Empty(t, detail.Records)
}

func TestSetRequestRejectsOnlyAtLeaderStage(t *testing.T) {
	e := newEnv(t)
	leader := e.user(t, "leader", model.RoleLeader)
	cashier := e.user(t, "cashier", model.RoleCashier)
	operator := e.user(t, "operator", model.RoleOperator)

	req := e.create(t, model.RequestTypeSet)
	assert.Equal(t, model.StatusSetPending, req.Status)
	assert.Nil(t, req.CurrentApproverID)

	res, err := e.act(leader, req, workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApprovedByLeader, res.Request.Status)

	// eligibility is decided before the flow graph
	_, err = e.act(operator, res.Request, workflow.ActionReject)
	assert.True(t, apperror.Is(err, apperror.KindNotEligible), "got %v", err)
	_, err = e.act(cashier, res.Request, workflow.ActionReject)
	assert.True(t, apperror.Is(err, apperror.KindValidation), "got %v", err)

	other := e.newAgent(t, "Botir Aliyev")
	created, err := e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: e.author.ID, Type: model.RequestTypeSet, Scope: e.scope(other), Period: "2026-03",
	})
	require.NoError(t, err)
	res, err = e.act(leader, created.Request, workflow.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejectedByLeader, res.Request.Status)
}

func TestMarkDebtEndsTheRequest(t *testing.T) {
	e := newEnv(t)
	cashier := e.user(t, "cashier", model.RoleCashier)
	req := e.create(t, model.RequestTypeNormal)

	res, err := e.lifecycle.Transition(e.ctx, service.TransitionInput{
		RequestID: req.ID, ActorID: cashier.ID, Action: workflow.ActionMarkDebt,
		ExpectedStatus: req.Status, Note: "cash short", EvidenceRef: "photo-17",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDebtFound, res.Request.Status)

	detail, err := e.lifecycle.Get(e.ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, detail.Records, 1)
	assert.Equal(t, model.OutcomeDebtMarked, detail.Records[0].Outcome)
	assert.Equal(t, "photo-17", detail.Records[0].EvidenceRef)
	assert.Equal(t, workflow.BucketDebtFound, detail.Bucket)
}

func TestCancelIsForCreatorOrAdmin(t *testing.T) {
	e := newEnv(t)
	cashier := e.user(t, "cashier", model.RoleCashier)
	req := e.create(t, model.RequestTypeNormal)

	_, err := e.act(cashier, req, workflow.ActionCancel)
	assert.True(t, apperror.Is(err, apperror.KindNotEligible), "got %v", err)

	res, err := e.act(e.author, req, workflow.ActionCancel)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Request.Status)

	detail, err := e.lifecycle.Get(e.ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, detail.Records, 1)
	assert.Equal(t, model.RoleCreator, detail.Records[0].ApprovalType)
	assert.Equal(t, model.OutcomeCancelled, detail.Records[0].Outcome)

	_, err = e.act(e.admin, res.Request, workflow.ActionCancel)
	assert.True(t, apperror.Is(err, apperror.KindStaleState), "got %v", err)
}

func TestCreateGuards(t *testing.T) {
	e := newEnv(t)
	e.user(t, "cashier", model.RoleCashier)
	e.create(t, model.RequestTypeNormal)

	_, err := e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: e.author.ID, Type: model.RequestTypeNormal, Scope: e.scope(e.agent),
	})
	assert.True(t, apperror.Is(err, apperror.KindValidation), "second open request: %v", err)

	cashier := e.user(t, "cashier-2", model.RoleCashier)
	_, err = e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: cashier.ID, Type: model.RequestTypeNormal, Scope: e.scope(e.newAgent(t, "Olmos Karimov")),
	})
	assert.True(t, apperror.Is(err, apperror.KindNotEligible), "non-creator: %v", err)

	_, err = e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: e.author.ID, Type: model.RequestTypeNormal, Scope: e.scope(e.agent), Period: "March",
	})
	assert.True(t, apperror.Is(err, apperror.KindValidation), "bad period: %v", err)

	foreign := model.Scope{BrandID: e.brand.ID, BranchID: uuid.New(), AgentID: e.agent.ID}
	_, err = e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: e.author.ID, Type: model.RequestTypeNormal, Scope: foreign,
	})
	assert.Error(t, err)
}

func TestSnapshotTotalBecomesRequestTotal(t *testing.T) {
	e := newEnv(t)
	e.user(t, "cashier", model.RoleCashier)
	snap := &model.SpreadsheetSnapshot{
		FileName:     "march.csv",
		Headers:      []string{"ID", "Name", "Amount"},
		Columns:      model.ColumnMapping{ID: 0, Name: 1, Amount: 2, Unit: model.NoColumn, Brand: model.NoColumn, Agent: model.NoColumn, AgentCode: model.NoColumn},
		RawRows:      [][]string{{"1", "Shop A", "1 200,50"}, {"2", "Shop B", "300"}},
		FilteredRows: [][]string{{"1", "Shop A", "1 200,50"}, {"2", "Shop B", "300"}},
		Total:        decimal.RequireFromString("1500.5"),
	}
	res, err := e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: e.author.ID, Type: model.RequestTypeNormal, Scope: e.scope(e.agent), Snapshot: snap,
	})
	require.NoError(t, err)
	assert.True(t, res.Request.Total.Equal(decimal.RequireFromString("1500.5")))
	assert.Equal(t, time.Now().Format("2006-01"), res.Request.Period)
}

func TestNoApproversIsAWarning(t *testing.T) {
	e := newEnv(t)
	res, err := e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: e.author.ID, Type: model.RequestTypeNormal, Scope: e.scope(e.agent),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, model.StatusPendingApproval, res.Request.Status)

	var kinds []string
	for _, p := range e.messenger.Sent(e.author.ID) {
		kinds = append(kinds, p.Kind)
	}
	assert.Contains(t, kinds, service.PromptNoApprovers)

	logs, _, err := e.repos.Audit.List(e.ctx, repository.AuditFilter{Action: model.ActionNoApprovers})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestStageAudienceIsPrompted(t *testing.T) {
	e := newEnv(t)
	cashier := e.user(t, "cashier", model.RoleCashier)
	req := e.create(t, model.RequestTypeNormal)

	prompts := e.messenger.Sent(cashier.ID)
	require.Len(t, prompts, 1)
	assert.Equal(t, service.PromptApproval, prompts[0].Kind)
	assert.Equal(t, req.ID, *prompts[0].RequestID)
	var values []string
	for _, c := range prompts[0].Choices {
		values = append(values, c.Value)
	}
	assert.Equal(t, []string{"approve", "mark_debt", "reject"}, values)

	aud, err := e.lifecycle.Audience(e.ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, aud.Contains(cashier.ID))
}

func TestBlockedScopeStopsCreation(t *testing.T) {
	e := newEnv(t)
	e.user(t, "cashier", model.RoleCashier)
	item, err := e.blocks.Block(e.ctx, e.admin.ID, service.BlockInput{ScopeKind: model.ScopeBranch, ScopeID: e.branch.ID, Reason: "inventory"})
	require.NoError(t, err)

	_, err = e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: e.author.ID, Type: model.RequestTypeNormal, Scope: e.scope(e.agent),
	})
	assert.True(t, apperror.Is(err, apperror.KindScopeBlocked), "got %v", err)

	_, err = e.blocks.Block(e.ctx, e.admin.ID, service.BlockInput{ScopeKind: model.ScopeBranch, ScopeID: e.branch.ID, Reason: "again"})
	assert.True(t, apperror.Is(err, apperror.KindValidation), "got %v", err)

	_, err = e.blocks.Unblock(e.ctx, e.author.ID, item.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotEligible), "got %v", err)

	lifted, err := e.blocks.Unblock(e.ctx, e.admin.ID, item.ID)
	require.NoError(t, err)
	assert.False(t, lifted.Active)
	_, err = e.blocks.Unblock(e.ctx, e.admin.ID, item.ID)
	assert.True(t, apperror.Is(err, apperror.KindStaleState), "got %v", err)

	e.create(t, model.RequestTypeNormal)
}

func TestStatisticsUseCanonicalBuckets(t *testing.T) {
	e := newEnv(t)
	cashier := e.user(t, "cashier", model.RoleCashier)
	e.user(t, "operator", model.RoleOperator)
	first := e.create(t, model.RequestTypeNormal)
	_, err := e.act(cashier, first, workflow.ActionApprove)
	require.NoError(t, err)

	second := e.newAgent(t, "Botir Aliyev")
	_, err = e.lifecycle.Create(e.ctx, service.CreateRequestInput{
		CreatorID: e.author.ID, Type: model.RequestTypeNormal, Scope: e.scope(second), Period: "2026-03",
	})
	require.NoError(t, err)

	stats := service.NewStatisticsService(e.repos)
	resp, err := stats.GetStatistics(e.ctx, "2026-03", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.ByBucket[string(workflow.BucketAwaitingOperator)])
	assert.Equal(t, 1, resp.ByBucket[string(workflow.BucketAwaitingCashier)])
	require.Len(t, resp.ByBrand, 1)
	assert.Equal(t, "Pepsi", resp.ByBrand[0].BrandName)
}

func TestAuditServiceListsNewestFirst(t *testing.T) {
	e := newEnv(t)
	e.user(t, "cashier", model.RoleCashier)
	e.create(t, model.RequestTypeNormal)

	logs, total, err := service.NewAuditService(e.repos).GetAuditLogs(e.ctx, repository.AuditFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionCreateRequest, logs[0].Action)
	assert.Equal(t, "author", logs[0].Username)
}
