package routing

import (
	"context"
	"io"
	"slices"
	"testing"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx    context.Context
	repos  *repository.Repositories
	router *router
	brand  model.Brand
	branch model.Branch
	agent  model.Agent
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{ctx: context.Background(), repos: memory.NewStore().Repositories(), clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.router = NewRouter(f.repos, logger).(*router)
	f.router.now = func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}

	f.brand = model.Brand{Name: "Coca-Cola", Active: true}
	require.NoError(t, f.repos.Org.CreateBrand(f.ctx, &f.brand))
	f.branch = model.Branch{BrandID: f.brand.ID, Name: "Tashkent", Active: true}
	require.NoError(t, f.repos.Org.CreateBranch(f.ctx, &f.branch))
	f.agent = model.Agent{BrandID: f.brand.ID, BranchID: f.branch.ID, Name: "Axmadjonov Mashxurbek", Code: "A-10", Active: true}
	require.NoError(t, f.repos.Org.CreateAgent(f.ctx, &f.agent))
	return f
}

func (f *fixture) user(t *testing.T, name string, role model.Role) model.User {
	t.Helper()
	u := model.User{Username: name, Role: role, Active: true}
	require.NoError(t, f.repos.Users.Create(f.ctx, &u))
	return u
}

func (f *fixture) bind(t *testing.T, userID *uuid.UUID, role model.Role, ref model.ScopeRef, src model.BindingSource) {
	t.Helper()
	require.NoError(t, f.repos.Bindings.Create(f.ctx, &model.RoleScopeBinding{
		UserID: userID, Role: role, ScopeKind: ref.Kind, ScopeID: ref.ID, Source: src,
	}))
}

func (f *fixture) request(status model.RequestStatus) *model.Request {
	typ := model.RequestTypeNormal
	if status == model.StatusSetPending || status == model.StatusApprovedByLeader {
		typ = model.RequestTypeSet
	}
	return &model.Request{
		ID:     uuid.New(),
		Type:   typ,
		Status: status,
		Scope:  model.Scope{BrandID: f.brand.ID, BranchID: f.branch.ID, AgentID: f.agent.ID},
	}
}

func (f *fixture) scope() model.Scope {
	return model.Scope{BrandID: f.brand.ID, BranchID: f.branch.ID, AgentID: f.agent.ID}
}

func TestSingleCashierBoundToBranch(t *testing.T) {
	f := newFixture(t)
	cashier := f.user(t, "cashier", model.RoleCashier)
	f.user(t, "other-cashier", model.RoleCashier)
	f.bind(t, &cashier.ID, model.RoleCashier, f.scope().Ref(model.ScopeBranch), model.SourceBinding)

	aud, err := f.router.Assign(f.ctx, f.request(model.StatusPendingApproval))
	require.NoError(t, err)
	require.Len(t, aud.Candidates, 1)
	assert.Equal(t, cashier.ID, aud.Candidates[0].User.ID)
	require.NotNil(t, aud.Primary)
	assert.Equal(t, cashier.ID, aud.Primary.User.ID)
	assert.False(t, aud.Fallback)
}

func TestFallbackWhenRoleHasNoBindings(t *testing.T) {
	f := newFixture(t)
	f.user(t, "op1", model.RoleOperator)
	f.user(t, "op2", model.RoleOperator)
	inactive := model.User{Username: "op3", Role: model.RoleOperator}
	require.NoError(t, f.repos.Users.Create(f.ctx, &inactive))

	aud, err := f.router.Resolve(f.ctx, f.request(model.StatusApprovedByCashier))
	require.NoError(t, err)
	assert.True(t, aud.Fallback)
	assert.Len(t, aud.Candidates, 2)
	assert.False(t, aud.Contains(inactive.ID))
	assert.Equal(t, "fallback", aud.Candidates[0].Reason())
}

func TestMergedSourcesOccupyOneSlot(t *testing.T) {
	f := newFixture(t)
	cashier := f.user(t, "cashier", model.RoleCashier)
	branch := f.scope().Ref(model.ScopeBranch)
	f.bind(t, &cashier.ID, model.RoleCashier, branch, model.SourceBinding)
	f.bind(t, &cashier.ID, model.RoleCashier, branch, model.SourceAssignment)
	f.bind(t, nil, model.RoleCashier, branch, model.SourceRole)

	aud, err := f.router.Resolve(f.ctx, f.request(model.StatusPendingApproval))
	require.NoError(t, err)
	require.Len(t, aud.Candidates, 1)
	assert.Equal(t, "assignment+binding+role", aud.Candidates[0].Reason())
}

func TestMergeCandidatesHasNoDuplicates(t *testing.T) {
	a := model.User{ID: uuid.New()}
	b := model.User{ID: uuid.New()}
	merged := MergeCandidates([]Entry{
		{a, model.SourceRole}, {b, model.SourceBinding}, {a, model.SourceAssignment}, {a, model.SourceRole},
	})
	require.Len(t, merged, 2)
	seen := map[uuid.UUID]bool{}
	for _, c := range merged {
		assert.False(t, seen[c.User.ID])
		seen[c.User.ID] = true
		if c.User.ID == a.ID {
			assert.Equal(t, "assignment+role", c.Reason())
		}
	}
}

func TestRoundRobinRotatesByLeastRecent(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for _, name := range []string{"c1", "c2", "c3"} {
		ids = append(ids, f.user(t, name, model.RoleCashier).ID.String())
	}
	f.bind(t, nil, model.RoleCashier, f.scope().Ref(model.ScopeBranch), model.SourceRole)

	var picks []string
	for i := 0; i < 4; i++ {
		aud, err := f.router.Assign(f.ctx, f.request(model.StatusPendingApproval))
		require.NoError(t, err)
		picks = append(picks, aud.Primary.User.ID.String())
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	assert.Equal(t, []string{sorted[0], sorted[1], sorted[2], sorted[0]}, picks)
}

func TestSupervisorHasNoPrimary(t *testing.T) {
	f := newFixture(t)
	sup := f.user(t, "sup", model.RoleSupervisor)
	f.bind(t, &sup.ID, model.RoleSupervisor, f.scope().Ref(model.ScopeBrand), model.SourceBinding)

	aud, err := f.router.Assign(f.ctx, f.request(model.StatusApprovedByOperator))
	require.NoError(t, err)
	assert.True(t, aud.Contains(sup.ID))
	assert.Nil(t, aud.Primary)
}

func TestSupervisorNeedsBrandAndBranch(t *testing.T) {
	f := newFixture(t)
	covered := f.user(t, "sup-covered", model.RoleSupervisor)
	otherBranch := f.user(t, "sup-other-branch", model.RoleSupervisor)
	f.bind(t, &covered.ID, model.RoleSupervisor, f.scope().Ref(model.ScopeBrand), model.SourceBinding)
	f.bind(t, &covered.ID, model.RoleSupervisor, f.scope().Ref(model.ScopeBranch), model.SourceBinding)
	f.bind(t, &otherBranch.ID, model.RoleSupervisor, f.scope().Ref(model.ScopeBrand), model.SourceBinding)
	f.bind(t, &otherBranch.ID, model.RoleSupervisor, model.ScopeRef{Kind: model.ScopeBranch, ID: uuid.New()}, model.SourceBinding)

	aud, err := f.router.Resolve(f.ctx, f.request(model.StatusApprovedByOperator))
	require.NoError(t, err)
	assert.True(t, aud.Contains(covered.ID))
	assert.False(t, aud.Contains(otherBranch.ID))
}

func TestAgentBindingCoversAnyLevel(t *testing.T) {
	f := newFixture(t)
	leader := f.user(t, "leader", model.RoleLeader)
	f.bind(t, &leader.ID, model.RoleLeader, f.scope().Ref(model.ScopeAgent), model.SourceAssignment)

	ok, err := f.router.IsEligible(f.ctx, f.request(model.StatusSetPending), leader.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBlockedScopeSkipsRouting(t *testing.T) {
	f := newFixture(t)
	f.user(t, "cashier", model.RoleCashier)
	require.NoError(t, f.repos.Blocks.Create(f.ctx, &model.BlockedItem{
		ScopeKind: model.ScopeBranch, ScopeID: f.branch.ID, Reason: "audit in progress", Active: true,
	}))

	_, err := f.router.Resolve(f.ctx, f.request(model.StatusPendingApproval))
	assert.True(t, apperror.Is(err, apperror.KindScopeBlocked))
}

func TestNoApproversIsReportedNotFatal(t *testing.T) {
	f := newFixture(t)
	cashier := f.user(t, "cashier", model.RoleCashier)
	f.bind(t, &cashier.ID, model.RoleCashier, model.ScopeRef{Kind: model.ScopeBranch, ID: uuid.New()}, model.SourceBinding)

	aud, err := f.router.Assign(f.ctx, f.request(model.StatusPendingApproval))
	assert.True(t, apperror.Is(err, apperror.KindNoApproversFound))
	require.NotNil(t, aud)
	assert.Empty(t, aud.Candidates)

	ok, err := f.router.IsEligible(f.ctx, f.request(model.StatusPendingApproval), cashier.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalRequestHasEmptyAudience(t *testing.T) {
	f := newFixture(t)
	aud, err := f.router.Resolve(f.ctx, f.request(model.StatusFinalApproved))
	require.NoError(t, err)
	assert.Empty(t, aud.Candidates)
	assert.Equal(t, model.Role(""), aud.Role)
}

func TestAvailabilityExcludesOpenAndBlockedAgents(t *testing.T) {
	f := newFixture(t)
	second := model.Agent{BrandID: f.brand.ID, BranchID: f.branch.ID, Name: "Botir Aliyev", Active: true}
	require.NoError(t, f.repos.Org.CreateAgent(f.ctx, &second))
	third := model.Agent{BrandID: f.brand.ID, BranchID: f.branch.ID, Name: "Olmos Karimov", Active: true}
	require.NoError(t, f.repos.Org.CreateAgent(f.ctx, &third))

	open := f.request(model.StatusPendingApproval)
	open.UID = "R-202603-00001"
	require.NoError(t, f.repos.Requests.Create(f.ctx, open))
	require.NoError(t, f.repos.Blocks.Create(f.ctx, &model.BlockedItem{
		ScopeKind: model.ScopeAgent, ScopeID: third.ID, Active: true,
	}))

	agents, err := f.router.AvailableAgents(f.ctx, f.branch.ID)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, second.ID, agents[0].ID)

	branches, err := f.router.AvailableBranches(f.ctx, f.brand.ID)
	require.NoError(t, err)
	assert.Len(t, branches, 1)
}
