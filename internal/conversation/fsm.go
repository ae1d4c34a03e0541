// Package conversation is the request wizard: a per-actor state machine driven by
// discrete inbound events, holding a draft until it is submitted or cancelled.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/ingestion"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/routing"
	"debtapproval/internal/service"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateSelectBrand     State = "select_brand"
	StateSelectBranch    State = "select_branch"
	StateSelectSVR       State = "select_svr"
	StateEnterReportData State = "enter_report_data"
	StateSetExtraInfo    State = "set_extra_info"
	StatePreview         State = "preview"
	StateUploadExcel     State = "upload_excel"
	StateSelectColumns   State = "select_columns"
	StateConfirmColumns  State = "confirm_columns"
	StateExcelPreview    State = "excel_preview"
	StateConfirmExcel    State = "confirm_excel"
	StateSubmitted       State = "submitted"
	StateCancelled       State = "cancelled"
)

func (s State) final() bool {
	return s == StateSubmitted || s == StateCancelled
}

// InputKind is the class of an inbound event. Each state accepts exactly one class.
type InputKind string

const (
	InputStart  InputKind = "start"
	InputSelect InputKind = "select"
	InputText   InputKind = "text"
	InputFile   InputKind = "file"
)

// Selections understood outside the per-state choice lists.
const (
	SelectCancel   = "cancel"
	SelectUpload   = "upload"
	SelectBack     = "back"
	SelectSubmit   = "submit"
	SelectConfirm  = "confirm"
	SelectRedo     = "redo"
	SelectContinue = "continue"
	SelectRemap    = "remap"
	SelectDiscard  = "discard"
	SelectAttach   = "attach"
)

// Input is one inbound event.
type Input struct {
	Kind     InputKind         `json:"kind"`
	Type     model.RequestType `json:"type,omitempty"`
	Value    string            `json:"value,omitempty"`
	Text     string            `json:"text,omitempty"`
	FileName string            `json:"file_name,omitempty"`
	Data     []byte            `json:"-"`
}

// Reply is what the actor sees after a turn.
type Reply struct {
	State   State            `json:"state"`
	Text    string           `json:"text"`
	Choices []service.Choice `json:"choices,omitempty"`
	Request *model.Request   `json:"request,omitempty"`
	Warning string           `json:"warning,omitempty"`
	Details map[string]any   `json:"details,omitempty"`
}

// Machine runs wizard turns.
type Machine struct {
	drafts    *DraftStore
	router    routing.Router
	lifecycle service.LifecycleService
	engine    *ingestion.Engine
	bindings  repository.BindingRepository
	org       repository.OrgRepository
	logger    *logrus.Logger
	now       func() time.Time
}

func NewMachine(drafts *DraftStore, router routing.Router, lifecycle service.LifecycleService, engine *ingestion.Engine, repos *repository.Repositories, logger *logrus.Logger) *Machine {
	return &Machine{
		drafts:    drafts,
		router:    router,
		lifecycle: lifecycle,
		engine:    engine,
		bindings:  repos.Bindings,
		org:       repos.Org,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle applies one event to the key's draft. Validation problems come back as a
// re-prompt with a warning and leave the draft as it was; only unexpected failures
// are returned as errors.
func (m *Machine) Handle(ctx context.Context, key Key, in Input) (*Reply, error) {
	var reply *Reply
	_, err := m.drafts.Update(key, func(d *Draft, existed bool) error {
		if in.Kind == InputStart {
			if !in.Type.Valid() {
				return apperror.Validation("Choose a write-off (NORMAL) or extension (SET) request.")
			}
			*d = Draft{Type: in.Type, Period: m.now().Format("2006-01")}
			var err error
			reply, err = m.enterSelectBrand(ctx, key, d)
			return err
		}
		if !existed {
			reply = &Reply{Text: "Nothing is in progress. Start a new request first."}
			return errNoDraft
		}
		if in.Kind == InputSelect && in.Value == SelectCancel {
			d.State = StateCancelled
			reply = &Reply{State: StateCancelled, Text: "Request discarded."}
			return nil
		}

		work := *d
		r, err := m.step(ctx, key, &work, in)
		if err == nil {
			*d = work
			reply = r
			return nil
		}
		if !isUserError(err) {
			return err
		}
		reply, err = m.reprompt(ctx, key, d, apperror.From(err))
		return err
	})

	switch {
	case err == errNoDraft:
		return reply, nil
	case err != nil && isUserError(err):
		e := apperror.From(err)
		return &Reply{Text: e.Message, Warning: e.Message, Details: e.Details}, nil
	case err != nil:
		m.logger.WithError(err).WithFields(logrus.Fields{
			"actor_id": key.ActorID,
			"context":  key.Context,
			"input":    in.Kind,
		}).Error("conversation turn failed")
		return nil, err
	}
	return reply, nil
}

var errNoDraft = apperror.NotFound("no draft", nil)

func isUserError(err error) bool {
	switch apperror.KindOf(err) {
	case apperror.KindValidation, apperror.KindNotEligible, apperror.KindScopeBlocked,
		apperror.KindSpreadsheetFormat, apperror.KindStaleState:
		return true
	}
	return false
}

func wrongInput(expected InputKind) error {
	switch expected {
	case InputText:
		return apperror.Validation("Please type your answer.")
	case InputFile:
		return apperror.Validation("Please send the spreadsheet file, or choose discard.")
	default:
		return apperror.Validation("Please choose one of the options.")
	}
}

// reprompt repeats the current state's question with a warning.
func (m *Machine) reprompt(ctx context.Context, key Key, d *Draft, cause *apperror.Error) (*Reply, error) {
	r, err := m.prompt(ctx, key, d)
	if err != nil {
		return nil, err
	}
	r.Warning = cause.Message
	r.Details = cause.Details
	return r, nil
}

func (m *Machine) step(ctx context.Context, key Key, d *Draft, in Input) (*Reply, error) {
	switch d.State {
	case StateSelectBrand:
		if in.Kind != InputSelect {
			return nil, wrongInput(InputSelect)
		}
		return m.selectBrand(ctx, key, d, in.Value)
	case StateSelectBranch:
		if in.Kind != InputSelect {
			return nil, wrongInput(InputSelect)
		}
		return m.selectBranch(ctx, key, d, in.Value)
	case StateSelectSVR:
		if in.Kind != InputSelect {
			return nil, wrongInput(InputSelect)
		}
		return m.selectAgent(ctx, key, d, in.Value)
	case StateEnterReportData:
		return m.enterReportData(ctx, key, d, in)
	case StateSetExtraInfo:
		if in.Kind != InputText {
			return nil, wrongInput(InputText)
		}
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, apperror.Validation("Describe the extension terms.")
		}
		d.ExtraInfo = text
		d.State = StatePreview
		return m.prompt(ctx, key, d)
	case StatePreview:
		return m.preview(ctx, key, d, in)
	case StateUploadExcel:
		return m.uploadExcel(ctx, key, d, in)
	case StateSelectColumns:
		return m.selectColumns(ctx, key, d, in)
	case StateConfirmColumns:
		return m.confirmColumns(ctx, key, d, in)
	case StateExcelPreview:
		return m.excelPreview(ctx, key, d, in)
	case StateConfirmExcel:
		return m.confirmExcel(ctx, key, d, in)
	}
	return nil, apperror.Internal(fmt.Errorf("draft in unknown state %q", d.State))
}

func (m *Machine) enterReportData(ctx context.Context, key Key, d *Draft, in Input) (*Reply, error) {
	switch in.Kind {
	case InputSelect:
		if in.Value == SelectUpload {
			return m.startUpload(ctx, key, d)
		}
		return nil, wrongInput(InputText)
	case InputText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, apperror.Validation("Describe the report before continuing.")
		}
		d.ReportText = text
		if d.Type == model.RequestTypeSet {
			d.State = StateSetExtraInfo
		} else {
			d.State = StatePreview
		}
		return m.prompt(ctx, key, d)
	}
	return nil, wrongInput(InputText)
}

func (m *Machine) preview(ctx context.Context, key Key, d *Draft, in Input) (*Reply, error) {
	if in.Kind != InputSelect {
		return nil, wrongInput(InputSelect)
	}
	switch in.Value {
	case SelectBack:
		d.State = StateEnterReportData
		return m.prompt(ctx, key, d)
	case SelectUpload:
		return m.startUpload(ctx, key, d)
	case SelectSubmit:
		res, err := m.lifecycle.Create(ctx, service.CreateRequestInput{
			CreatorID:  key.ActorID,
			Type:       d.Type,
			Scope:      model.Scope{BrandID: d.BrandID, BranchID: d.BranchID, AgentID: d.AgentID},
			Period:     d.Period,
			ReportText: d.ReportText,
			ExtraInfo:  d.ExtraInfo,
			Snapshot:   d.Snapshot,
		})
		if err != nil {
			return nil, err
		}
		d.State = StateSubmitted
		return &Reply{
			State:   StateSubmitted,
			Text:    fmt.Sprintf("Request %s submitted.", res.Request.UID),
			Request: res.Request,
			Warning: res.Warning,
		}, nil
	}
	return nil, wrongInput(InputSelect)
}

func (m *Machine) target(d *Draft) model.MatchTarget {
	return model.MatchTarget{
		AgentName: d.AgentName,
		AgentCode: d.AgentCode,
		BrandName: d.BrandName,
		UnitName:  d.BranchName,
	}
}

// Current repeats the question of the key's live draft.
func (m *Machine) Current(ctx context.Context, key Key) (*Reply, error) {
	d, ok := m.drafts.Get(key)
	if !ok {
		return &Reply{Text: "Nothing is in progress. Start a new request first."}, nil
	}
	return m.prompt(ctx, key, &d)
}

// Discard drops the key's draft without a turn.
func (m *Machine) Discard(key Key) {
	m.drafts.Delete(key)
}
