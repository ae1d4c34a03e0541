package conversation_test

import (
	"context"
	"strings"
	"testing"

	"debtapproval/internal/conversation"
	"debtapproval/internal/ingestion"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/repository/memory"
	"debtapproval/internal/routing"
	"debtapproval/internal/service"
	"debtapproval/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx     context.Context
	repos   *repository.Repositories
	drafts  *conversation.DraftStore
	machine *conversation.Machine

	pepsi    model.Brand
	branch   model.Branch
	axmad    model.Agent
	karimov  model.Agent
	cola     model.Brand
	colaSolo model.Agent
	author   model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	store := memory.NewStore()
	f := &fixture{ctx: context.Background(), repos: store.Repositories()}

	router := routing.NewRouter(f.repos, log)
	lifecycle := service.NewLifecycleService(f.repos, router, service.NewNotifier(nil, log), log)
	f.drafts = conversation.NewDraftStore(conversation.DefaultDraftTTL)
	f.machine = conversation.NewMachine(f.drafts, router, lifecycle, ingestion.NewEngine(ingestion.DefaultOptions()), f.repos, log)

	f.pepsi = f.brand(t, "Pepsi")
	f.branch = f.newBranch(t, f.pepsi, "Samarkand")
	f.axmad = f.agent(t, f.branch, "Axmadjonov Mashxurbek")
	f.karimov = f.agent(t, f.branch, "Karimov Olim")

	f.cola = f.brand(t, "Coca-Cola")
	f.colaSolo = f.agent(t, f.newBranch(t, f.cola, "Bukhara"), "Aliyev Botir")

	f.author = model.User{Username: "author", Role: model.RoleCreator, Active: true}
	require.NoError(t, f.repos.Users.Create(f.ctx, &f.author))
	return f
}

func (f *fixture) brand(t *testing.T, name string) model.Brand {
	b := model.Brand{Name: name, Active: true}
	require.NoError(t, f.repos.Org.CreateBrand(f.ctx, &b))
	return b
}

func (f *fixture) newBranch(t *testing.T, brand model.Brand, name string) model.Branch {
	b := model.Branch{BrandID: brand.ID, Name: name, Active: true}
	require.NoError(t, f.repos.Org.CreateBranch(f.ctx, &b))
	return b
}

func (f *fixture) agent(t *testing.T, branch model.Branch, name string) model.Agent {
	a := model.Agent{BrandID: branch.BrandID, BranchID: branch.ID, Name: name, Active: true}
	require.NoError(t, f.repos.Org.CreateAgent(f.ctx, &a))
	return a
}

func (f *fixture) key() conversation.Key {
	return conversation.Key{ActorID: f.author.ID, Context: "chat-1"}
}

func (f *fixture) send(t *testing.T, in conversation.Input) *conversation.Reply {
	t.Helper()
	r, err := f.machine.Handle(f.ctx, f.key(), in)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func start(typ model.RequestType) conversation.Input {
	return conversation.Input{Kind: conversation.InputStart, Type: typ}
}

func pick(value string) conversation.Input {
	return conversation.Input{Kind: conversation.InputSelect, Value: value}
}

func text(s string) conversation.Input {
	return conversation.Input{Kind: conversation.InputText, Text: s}
}

func file(name, body string) conversation.Input {
	return conversation.Input{Kind: conversation.InputFile, FileName: name, Data: []byte(body)}
}

func values(r *conversation.Reply) []string {
	out := make([]string, len(r.Choices))
	for i, c := range r.Choices {
		out[i] = c.Value
	}
	return out
}

// toReportData drives a NORMAL draft up to the report question for Axmadjonov.
func (f *fixture) toReportData(t *testing.T, typ model.RequestType) {
	t.Helper()
	f.send(t, start(typ))
	f.send(t, pick(f.pepsi.ID.String()))
	r := f.send(t, pick(f.axmad.ID.String()))
	require.Equal(t, conversation.StateEnterReportData, r.State)
}

func TestSingleBranchIsSkipped(t *testing.T) {
	f := newFixture(t)

	r := f.send(t, start(model.RequestTypeNormal))
	assert.Equal(t, conversation.StateSelectBrand, r.State)
	assert.ElementsMatch(t, []string{f.pepsi.ID.String(), f.cola.ID.String(), conversation.SelectCancel}, values(r))

	r = f.send(t, pick(f.pepsi.ID.String()))
	assert.Equal(t, conversation.StateSelectSVR, r.State)
	assert.ElementsMatch(t, []string{f.axmad.ID.String(), f.karimov.ID.String(), conversation.SelectCancel}, values(r))

	d, ok := f.drafts.Get(f.key())
	require.True(t, ok)
	assert.Equal(t, f.branch.ID, d.BranchID)
	assert.Equal(t, "Samarkand", d.BranchName)
}

func TestSingleAgentIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.send(t, start(model.RequestTypeNormal))

	r := f.send(t, pick(f.cola.ID.String()))
	assert.Equal(t, conversation.StateEnterReportData, r.State)
	assert.Contains(t, r.Text, "Aliyev Botir")
	assert.Equal(t, []string{conversation.SelectUpload, conversation.SelectCancel}, values(r))
}

func TestNormalWizardSubmits(t *testing.T) {
	f := newFixture(t)
	f.toReportData(t, model.RequestTypeNormal)

	r := f.send(t, text("March write-off"))
	assert.Equal(t, conversation.StatePreview, r.State)
	assert.Contains(t, r.Text, "Axmadjonov Mashxurbek")
	assert.Contains(t, values(r), conversation.SelectSubmit)

	r = f.send(t, pick(conversation.SelectSubmit))
	assert.Equal(t, conversation.StateSubmitted, r.State)
	require.NotNil(t, r.Request)
	assert.True(t, strings.HasPrefix(r.Request.UID, "R-"))
	assert.Equal(t, model.StatusPendingApproval, r.Request.Status)
	assert.Equal(t, f.axmad.ID, r.Request.AgentID)
	assert.NotEmpty(t, r.Warning, "no cashier exists yet")

	_, ok := f.drafts.Get(f.key())
	assert.False(t, ok)

	// the agent now has an open request, so only Karimov is offered
	f.send(t, start(model.RequestTypeNormal))
	r = f.send(t, pick(f.pepsi.ID.String()))
	assert.Equal(t, conversation.StateEnterReportData, r.State)
	assert.Contains(t, r.Text, "Karimov Olim")
}

func TestSetWizardAsksForExtensionTerms(t *testing.T) {
	f := newFixture(t)
	f.toReportData(t, model.RequestTypeSet)

	r := f.send(t, text("Extension for March"))
	assert.Equal(t, conversation.StateSetExtraInfo, r.State)

	r = f.send(t, text("   "))
	assert.Equal(t, conversation.StateSetExtraInfo, r.State)
	assert.NotEmpty(t, r.Warning)

	r = f.send(t, text("Pay in two parts by April"))
	assert.Equal(t, conversation.StatePreview, r.State)
	assert.Contains(t, r.Text, "Pay in two parts by April")

	r = f.send(t, pick(conversation.SelectSubmit))
	require.NotNil(t, r.Request)
	assert.Equal(t, model.StatusSetPending, r.Request.Status)
}

func TestWrongInputKeepsState(t *testing.T) {
	f := newFixture(t)
	f.send(t, start(model.RequestTypeNormal))

	r := f.send(t, text("Pepsi"))
	assert.Equal(t, conversation.StateSelectBrand, r.State)
	assert.NotEmpty(t, r.Warning)

	r = f.send(t, pick("not-a-brand"))
	assert.Equal(t, conversation.StateSelectBrand, r.State)
	assert.NotEmpty(t, r.Warning)

	d, ok := f.drafts.Get(f.key())
	require.True(t, ok)
	assert.Equal(t, conversation.StateSelectBrand, d.State)
}

func TestStartRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	r := f.send(t, start("WRITE_ALL"))
	assert.NotEmpty(t, r.Warning)
	assert.Equal(t, 0, f.drafts.Len())
}

func TestCancelDropsDraft(t *testing.T) {
	f := newFixture(t)
	f.send(t, start(model.RequestTypeNormal))

	r := f.send(t, pick(conversation.SelectCancel))
	assert.Equal(t, conversation.StateCancelled, r.State)
	assert.Equal(t, 0, f.drafts.Len())

	r = f.send(t, pick(f.pepsi.ID.String()))
	assert.Contains(t, r.Text, "Nothing is in progress")
}

func TestBindingsNarrowTheChoices(t *testing.T) {
	f := newFixture(t)
	binding := model.RoleScopeBinding{UserID: &f.author.ID, Role: model.RoleCreator, ScopeKind: model.ScopeAgent, ScopeID: f.karimov.ID}
	require.NoError(t, f.repos.Bindings.Create(f.ctx, &binding))

	r := f.send(t, start(model.RequestTypeNormal))
	assert.Equal(t, []string{f.pepsi.ID.String(), conversation.SelectCancel}, values(r))

	r = f.send(t, pick(f.pepsi.ID.String()))
	assert.Equal(t, conversation.StateEnterReportData, r.State)
	assert.Contains(t, r.Text, "Karimov Olim")
}

const debtsCSV = "ID,Name,SVR,Amount\n" +
	"1,Alpha,Axmadjonov Mashxurbek (JSAN 2),100\n" +
	"2,Beta,Karimov Olim,50\n" +
	"3,Gamma,Axmadjonov Mashxurbek,25.50\n"

func TestUploadAttachesSnapshotAndTotal(t *testing.T) {
	f := newFixture(t)
	f.toReportData(t, model.RequestTypeNormal)

	r := f.send(t, pick(conversation.SelectUpload))
	assert.Equal(t, conversation.StateUploadExcel, r.State)

	r = f.send(t, file("debts.csv", debtsCSV))
	assert.Equal(t, conversation.StateExcelPreview, r.State)
	assert.Contains(t, r.Text, "2 of 3 rows")
	assert.Contains(t, r.Text, "125.50")

	r = f.send(t, pick(conversation.SelectContinue))
	assert.Equal(t, conversation.StateConfirmExcel, r.State)

	r = f.send(t, pick(conversation.SelectAttach))
	assert.Equal(t, conversation.StateEnterReportData, r.State)
	assert.Contains(t, r.Text, "125.50")

	d, ok := f.drafts.Get(f.key())
	require.True(t, ok)
	assert.Nil(t, d.Upload)
	require.NotNil(t, d.Snapshot)
	assert.Len(t, d.Snapshot.FilteredRows, 2)

	f.send(t, text("March write-off"))
	r = f.send(t, pick(conversation.SelectSubmit))
	require.NotNil(t, r.Request)
	assert.True(t, decimal.RequireFromString("125.50").Equal(r.Request.Total))
}

func TestUploadWithoutMatchesKeepsDraft(t *testing.T) {
	f := newFixture(t)
	f.toReportData(t, model.RequestTypeNormal)
	f.send(t, pick(conversation.SelectUpload))

	r := f.send(t, file("debts.csv", "ID,Name,SVR,Amount\n1,Alpha,Someone Else,10\n"))
	assert.Equal(t, conversation.StateUploadExcel, r.State)
	assert.NotEmpty(t, r.Warning)
	assert.NotNil(t, r.Details["mismatch_samples"])

	r = f.send(t, text("just text"))
	assert.Equal(t, conversation.StateUploadExcel, r.State)
	assert.NotEmpty(t, r.Warning)

	r = f.send(t, pick(conversation.SelectDiscard))
	assert.Equal(t, conversation.StateEnterReportData, r.State)
}

func TestUploadWithManualColumns(t *testing.T) {
	f := newFixture(t)
	f.toReportData(t, model.RequestTypeNormal)
	f.send(t, pick(conversation.SelectUpload))

	r := f.send(t, file("m.csv", "col1,col2,col3,col4\n1,Alpha,Axmadjonov Mashxurbek,10\n2,Beta,Karimov Olim,20\n"))
	assert.Equal(t, conversation.StateSelectColumns, r.State)
	assert.NotEmpty(t, r.Warning)
	assert.Contains(t, r.Text, "4. col4")

	r = f.send(t, text("1 2"))
	assert.Equal(t, conversation.StateSelectColumns, r.State)
	assert.NotEmpty(t, r.Warning)

	r = f.send(t, text("1 2 9"))
	assert.Equal(t, conversation.StateSelectColumns, r.State)
	assert.NotEmpty(t, r.Warning)

	r = f.send(t, text("1 2 4 0 0 3"))
	assert.Equal(t, conversation.StateConfirmColumns, r.State)
	assert.Contains(t, r.Text, "Amount: 4. col4")
	assert.Contains(t, r.Text, "Unit: -")

	r = f.send(t, pick(conversation.SelectConfirm))
	assert.Equal(t, conversation.StateExcelPreview, r.State)
	assert.Contains(t, r.Text, "1 of 2 rows")

	f.send(t, pick(conversation.SelectContinue))
	f.send(t, pick(conversation.SelectAttach))

	d, ok := f.drafts.Get(f.key())
	require.True(t, ok)
	require.NotNil(t, d.Snapshot)
	assert.True(t, d.Snapshot.Manual)
	assert.True(t, decimal.NewFromInt(10).Equal(d.Snapshot.Total))
}

func TestUploadFromPreviewReturnsToPreview(t *testing.T) {
	f := newFixture(t)
	f.toReportData(t, model.RequestTypeNormal)
	f.send(t, text("March write-off"))

	r := f.send(t, pick(conversation.SelectUpload))
	assert.Equal(t, conversation.StateUploadExcel, r.State)
	f.send(t, file("debts.csv", debtsCSV))

	r = f.send(t, pick(conversation.SelectRemap))
	assert.Equal(t, conversation.StateSelectColumns, r.State)
	r = f.send(t, pick(conversation.SelectDiscard))
	assert.Equal(t, conversation.StatePreview, r.State)
	assert.NotContains(t, r.Text, "Spreadsheet:")
}
