package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/service"

	"github.com/google/uuid"
)

// --- scope selection ---

// reach is the part of the organisation an actor's own bindings point at.
// An actor without bindings reaches everything.
type reach struct {
	all           bool
	brands        map[uuid.UUID]bool
	boundBrands   map[uuid.UUID]bool
	branches      map[uuid.UUID]bool
	boundBranches map[uuid.UUID]bool
	agents        map[uuid.UUID]bool
}

func (m *Machine) reachOf(ctx context.Context, actorID uuid.UUID) (reach, error) {
	r := reach{
		brands:        map[uuid.UUID]bool{},
		boundBrands:   map[uuid.UUID]bool{},
		branches:      map[uuid.UUID]bool{},
		boundBranches: map[uuid.UUID]bool{},
		agents:        map[uuid.UUID]bool{},
	}
	bindings, err := m.bindings.ListByUser(ctx, actorID)
	if err != nil {
		return r, apperror.Internal(err)
	}
	if len(bindings) == 0 {
		r.all = true
		return r, nil
	}
	for _, b := range bindings {
		switch b.ScopeKind {
		case model.ScopeBrand:
			r.brands[b.ScopeID], r.boundBrands[b.ScopeID] = true, true
		case model.ScopeBranch:
			branch, err := m.org.GetBranch(ctx, b.ScopeID)
			if err != nil {
				continue
			}
			r.brands[branch.BrandID] = true
			r.branches[branch.ID], r.boundBranches[branch.ID] = true, true
		case model.ScopeAgent:
			agent, err := m.org.GetAgent(ctx, b.ScopeID)
			if err != nil {
				continue
			}
			r.brands[agent.BrandID] = true
			r.branches[agent.BranchID] = true
			r.agents[agent.ID] = true
		}
	}
	return r, nil
}

func (r reach) brand(b model.Brand) bool {
	return r.all || r.brands[b.ID]
}

func (r reach) branch(b model.Branch) bool {
	return r.all || r.boundBrands[b.BrandID] || r.branches[b.ID]
}

func (r reach) agent(a model.Agent) bool {
	return r.all || r.boundBrands[a.BrandID] || r.boundBranches[a.BranchID] || r.agents[a.ID]
}

func (m *Machine) brandChoices(ctx context.Context, key Key) ([]model.Brand, error) {
	r, err := m.reachOf(ctx, key.ActorID)
	if err != nil {
		return nil, err
	}
	brands, err := m.router.AvailableBrands(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Brand
	for _, b := range brands {
		if r.brand(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Machine) branchChoices(ctx context.Context, key Key, brandID uuid.UUID) ([]model.Branch, error) {
	r, err := m.reachOf(ctx, key.ActorID)
	if err != nil {
		return nil, err
	}
	branches, err := m.router.AvailableBranches(ctx, brandID)
	if err != nil {
		return nil, err
	}
	var out []model.Branch
	for _, b := range branches {
		if r.branch(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Machine) agentChoices(ctx context.Context, key Key, branchID uuid.UUID) ([]model.Agent, error) {
	r, err := m.reachOf(ctx, key.ActorID)
	if err != nil {
		return nil, err
	}
	agents, err := m.router.AvailableAgents(ctx, branchID)
	if err != nil {
		return nil, err
	}
	var out []model.Agent
	for _, a := range agents {
		if r.agent(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Machine) enterSelectBrand(ctx context.Context, key Key, d *Draft) (*Reply, error) {
	brands, err := m.brandChoices(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(brands) == 0 {
		return nil, apperror.Validation("No brand is open for new requests right now.")
	}
	d.State = StateSelectBrand
	return m.prompt(ctx, key, d)
}

func (m *Machine) selectBrand(ctx context.Context, key Key, d *Draft, value string) (*Reply, error) {
	brands, err := m.brandChoices(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, b := range brands {
		if b.ID.String() == value {
			d.BrandID, d.BrandName = b.ID, b.Name
			d.BranchID, d.BranchName = uuid.Nil, ""
			d.AgentID, d.AgentName, d.AgentCode = uuid.Nil, "", ""
			d.Snapshot = nil
			return m.enterSelectBranch(ctx, key, d)
		}
	}
	return nil, apperror.Validation("That brand is not available.")
}

// enterSelectBranch skips the question when exactly one branch qualifies.
func (m *Machine) enterSelectBranch(ctx context.Context, key Key, d *Draft) (*Reply, error) {
	branches, err := m.branchChoices(ctx, key, d.BrandID)
	if err != nil {
		return nil, err
	}
	switch len(branches) {
	case 0:
		return nil, apperror.Validation(fmt.Sprintf("No branch of %s has an agent available.", d.BrandName))
	case 1:
		d.BranchID, d.BranchName = branches[0].ID, branches[0].Name
		return m.enterSelectSVR(ctx, key, d)
	}
	d.State = StateSelectBranch
	return m.prompt(ctx, key, d)
}

func (m *Machine) selectBranch(ctx context.Context, key Key, d *Draft, value string) (*Reply, error) {
	branches, err := m.branchChoices(ctx, key, d.BrandID)
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		if b.ID.String() == value {
			d.BranchID, d.BranchName = b.ID, b.Name
			d.AgentID, d.AgentName, d.AgentCode = uuid.Nil, "", ""
			d.Snapshot = nil
			return m.enterSelectSVR(ctx, key, d)
		}
	}
	return nil, apperror.Validation("That branch is not available.")
}

// enterSelectSVR skips the question when exactly one agent is free of open requests.
func (m *Machine) enterSelectSVR(ctx context.Context, key Key, d *Draft) (*Reply, error) {
	agents, err := m.agentChoices(ctx, key, d.BranchID)
	if err != nil {
		return nil, err
	}
	switch len(agents) {
	case 0:
		return nil, apperror.Validation(fmt.Sprintf("Every agent of %s already has an open request.", d.BranchName))
	case 1:
		setAgent(d, agents[0])
		d.State = StateEnterReportData
		return m.prompt(ctx, key, d)
	}
	d.State = StateSelectSVR
	return m.prompt(ctx, key, d)
}

func (m *Machine) selectAgent(ctx context.Context, key Key, d *Draft, value string) (*Reply, error) {
	agents, err := m.agentChoices(ctx, key, d.BranchID)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.ID.String() == value {
			setAgent(d, a)
			d.State = StateEnterReportData
			return m.prompt(ctx, key, d)
		}
	}
	return nil, apperror.Validation("That agent is not available; it may already have an open request.")
}

func setAgent(d *Draft, a model.Agent) {
	d.AgentID, d.AgentName, d.AgentCode = a.ID, a.Name, a.Code
	d.Snapshot = nil
}

// --- spreadsheet sub-flow ---

func (m *Machine) startUpload(ctx context.Context, key Key, d *Draft) (*Reply, error) {
	d.Upload = &Upload{Return: d.State}
	d.State = StateUploadExcel
	return m.prompt(ctx, key, d)
}

func (m *Machine) leaveUpload(ctx context.Context, key Key, d *Draft) (*Reply, error) {
	d.State = d.Upload.Return
	d.Upload = nil
	return m.prompt(ctx, key, d)
}

func (m *Machine) uploadExcel(ctx context.Context, key Key, d *Draft, in Input) (*Reply, error) {
	if in.Kind == InputSelect && in.Value == SelectDiscard {
		return m.leaveUpload(ctx, key, d)
	}
	if in.Kind != InputFile {
		return nil, wrongInput(InputFile)
	}
	res, err := m.engine.Process(in.Data, in.FileName, m.target(d))
	if err != nil {
		return nil, err
	}

	up := &Upload{Return: d.Upload.Return, FileName: in.FileName, Data: in.Data, Result: res, Mapping: res.Snapshot.Columns}
	d.Upload = up
	if res.NeedsMapping {
		up.Mapping = model.EmptyMapping()
		d.State = StateSelectColumns
		r, err := m.prompt(ctx, key, d)
		if err != nil {
			return nil, err
		}
		r.Warning = "The id, name and amount columns could not be found automatically."
		return r, nil
	}
	d.State = StateExcelPreview
	return m.prompt(ctx, key, d)
}

func (m *Machine) selectColumns(ctx context.Context, key Key, d *Draft, in Input) (*Reply, error) {
	if in.Kind == InputSelect && in.Value == SelectDiscard {
		return m.leaveUpload(ctx, key, d)
	}
	if in.Kind != InputText {
		return nil, wrongInput(InputText)
	}
	mapping, err := parseMapping(in.Text, len(d.Upload.Result.Snapshot.Headers))
	if err != nil {
		return nil, err
	}
	up := *d.Upload
	up.Mapping = mapping
	d.Upload = &up
	d.State = StateConfirmColumns
	return m.prompt(ctx, key, d)
}

// parseMapping reads "id name amount [unit brand agent]" as 1-based column numbers; 0 skips an optional column.
func parseMapping(text string, width int) (model.ColumnMapping, error) {
	fields := strings.Fields(strings.NewReplacer(",", " ", ";", " ").Replace(text))
	if len(fields) < 3 || len(fields) > 6 {
		return model.ColumnMapping{}, apperror.Validation("Send three to six column numbers: id name amount [unit brand agent].")
	}
	idx := make([]int, 6)
	for i := range idx {
		idx[i] = model.NoColumn
	}
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || n > width || (n == 0 && i < 3) {
			return model.ColumnMapping{}, apperror.Validation(fmt.Sprintf("%q is not a column number between 1 and %d.", f, width))
		}
		idx[i] = n - 1
	}
	m := model.EmptyMapping()
	m.ID, m.Name, m.Amount, m.Unit, m.Brand, m.Agent = idx[0], idx[1], idx[2], idx[3], idx[4], idx[5]
	if m.ID == m.Name || m.ID == m.Amount || m.Name == m.Amount {
		return model.ColumnMapping{}, apperror.Validation("The id, name and amount columns must be different.")
	}
	return m, nil
}

func (m *Machine) confirmColumns(ctx context.Context, key Key, d *Draft, in Input) (*Reply, error) {
	if in.Kind != InputSelect {
		return nil, wrongInput(InputSelect)
	}
	switch in.Value {
	case SelectRedo:
		d.State = StateSelectColumns
		return m.prompt(ctx, key, d)
	case SelectDiscard:
		return m.leaveUpload(ctx, key, d)
	case SelectConfirm:
		up := *d.Upload
		res, err := m.engine.ProcessWithMapping(up.Data, up.FileName, m.target(d), up.Mapping)
		if err != nil {
			return nil, err
		}
		up.Result = res
		d.Upload = &up
		d.State = StateExcelPreview
		return m.prompt(ctx, key, d)
	}
	return nil, wrongInput(InputSelect)
}

func (m *Machine) excelPreview(ctx context.Context, key Key, d *Draft, in Input) (*Reply, error) {
	if in.Kind != InputSelect {
		return nil, wrongInput(InputSelect)
	}
	switch in.Value {
	case SelectContinue:
		d.State = StateConfirmExcel
		return m.prompt(ctx, key, d)
	case SelectRemap:
		up := *d.Upload
		up.Mapping = up.Result.Snapshot.Columns
		d.Upload = &up
		d.State = StateSelectColumns
		return m.prompt(ctx, key, d)
	case SelectDiscard:
		return m.leaveUpload(ctx, key, d)
	}
	return nil, wrongInput(InputSelect)
}

func (m *Machine) confirmExcel(ctx context.Context, key Key, d *Draft, in Input) (*Reply, error) {
	if in.Kind != InputSelect {
		return nil, wrongInput(InputSelect)
	}
	switch in.Value {
	case SelectAttach:
		snap := d.Upload.Result.Snapshot
		d.Snapshot = &snap
		r, err := m.leaveUpload(ctx, key, d)
		if err != nil {
			return nil, err
		}
		r.Text = fmt.Sprintf("Spreadsheet attached, total %s.\n%s", snap.Total.StringFixed(2), r.Text)
		return r, nil
	case SelectDiscard:
		return m.leaveUpload(ctx, key, d)
	}
	return nil, wrongInput(InputSelect)
}

// --- prompts ---

func choice(label, value string) service.Choice {
	return service.Choice{Label: label, Value: value}
}

var cancelChoice = choice("Cancel", SelectCancel)

// prompt renders the question for the draft's current state.
func (m *Machine) prompt(ctx context.Context, key Key, d *Draft) (*Reply, error) {
	r := &Reply{State: d.State}
	switch d.State {
	case StateSelectBrand:
		brands, err := m.brandChoices(ctx, key)
		if err != nil {
			return nil, err
		}
		r.Text = "Choose the brand."
		for _, b := range brands {
			r.Choices = append(r.Choices, choice(b.Name, b.ID.String()))
		}
	case StateSelectBranch:
		branches, err := m.branchChoices(ctx, key, d.BrandID)
		if err != nil {
			return nil, err
		}
		r.Text = fmt.Sprintf("Choose the %s branch.", d.BrandName)
		for _, b := range branches {
			r.Choices = append(r.Choices, choice(b.Name, b.ID.String()))
		}
	case StateSelectSVR:
		agents, err := m.agentChoices(ctx, key, d.BranchID)
		if err != nil {
			return nil, err
		}
		r.Text = fmt.Sprintf("Choose the agent in %s.", d.BranchName)
		for _, a := range agents {
			r.Choices = append(r.Choices, choice(a.Name, a.ID.String()))
		}
	case StateEnterReportData:
		r.Text = fmt.Sprintf("Agent %s, %s / %s. Describe the report for %s.", d.AgentName, d.BrandName, d.BranchName, d.Period)
		r.Choices = []service.Choice{choice("Upload spreadsheet", SelectUpload)}
	case StateSetExtraInfo:
		r.Text = "Describe the extension terms."
	case StatePreview:
		r.Text = summary(d)
		r.Choices = []service.Choice{
			choice("Submit", SelectSubmit),
			choice("Edit report", SelectBack),
			choice("Upload spreadsheet", SelectUpload),
		}
	case StateUploadExcel:
		r.Text = "Send the debt detail spreadsheet (.xlsx or .csv)."
		r.Choices = []service.Choice{choice("Discard", SelectDiscard)}
	case StateSelectColumns:
		r.Text = "Type the column numbers for id, name and amount, optionally followed by unit, brand and agent (0 to skip).\n" +
			numberedHeaders(d.Upload.Result.Snapshot.Headers)
		r.Choices = []service.Choice{choice("Discard", SelectDiscard)}
	case StateConfirmColumns:
		r.Text = describeMapping(d.Upload.Mapping, d.Upload.Result.Snapshot.Headers)
		r.Choices = []service.Choice{choice("Confirm", SelectConfirm), choice("Redo", SelectRedo), choice("Discard", SelectDiscard)}
	case StateExcelPreview:
		res := d.Upload.Result
		r.Text = fmt.Sprintf("%d of %d rows match %s, total %s.",
			res.Stats.MatchedRows, res.Stats.TotalRows, d.AgentName, res.Snapshot.Total.StringFixed(2))
		r.Details = map[string]any{"filtered_rows": res.Snapshot.FilteredRows, "headers": res.Snapshot.Headers}
		r.Choices = []service.Choice{choice("Continue", SelectContinue), choice("Remap columns", SelectRemap), choice("Discard", SelectDiscard)}
	case StateConfirmExcel:
		snap := d.Upload.Result.Snapshot
		r.Text = fmt.Sprintf("Attach %d rows totalling %s to the request?", len(snap.FilteredRows), snap.Total.StringFixed(2))
		r.Choices = []service.Choice{choice("Attach", SelectAttach), choice("Discard", SelectDiscard)}
	}
	r.Choices = append(r.Choices, cancelChoice)
	return r, nil
}

func summary(d *Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s request for %s\n", d.Type, d.Period)
	fmt.Fprintf(&b, "Brand: %s\nBranch: %s\nAgent: %s\n", d.BrandName, d.BranchName, d.AgentName)
	fmt.Fprintf(&b, "Report: %s\n", d.ReportText)
	if d.ExtraInfo != "" {
		fmt.Fprintf(&b, "Extension: %s\n", d.ExtraInfo)
	}
	if d.Snapshot != nil {
		fmt.Fprintf(&b, "Spreadsheet: %s, %d rows, total %s\n", d.Snapshot.FileName, len(d.Snapshot.FilteredRows), d.Snapshot.Total.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}

func numberedHeaders(headers []string) string {
	parts := make([]string, len(headers))
	for i, h := range headers {
		parts[i] = fmt.Sprintf("%d. %s", i+1, h)
	}
	return strings.Join(parts, "\n")
}

func describeMapping(m model.ColumnMapping, headers []string) string {
	name := func(idx int) string {
		if idx < 0 || idx >= len(headers) {
			return "-"
		}
		return fmt.Sprintf("%d. %s", idx+1, headers[idx])
	}
	return fmt.Sprintf("Id: %s\nName: %s\nAmount: %s\nUnit: %s\nBrand: %s\nAgent: %s",
		name(m.ID), name(m.Name), name(m.Amount), name(m.Unit), name(m.Brand), name(m.Agent))
}
