// Package workflow holds the fixed approval flow graphs for NORMAL and SET requests.
//
// The graphs are static tables: a status advances only along a declared edge,
// and every request type has exactly one main path to FINAL_APPROVED.
package workflow

import (
	"fmt"

	"debtapproval/internal/model"
)

// Action is an edge label in a flow graph.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionMarkDebt Action = "mark_debt"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionFinalize Action = "finalize"
)

// ParseAction converts a raw action string.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionApprove, ActionMarkDebt, ActionReject, ActionCancel:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// step is one position on the main path: the status a request rests in and the role that acts on it.
type step struct {
	status model.RequestStatus
	role   model.Role
}

var mainPaths = map[model.RequestType][]step{
	model.RequestTypeNormal: {
		{model.StatusPendingApproval, model.RoleCashier},
		{model.StatusApprovedByCashier, model.RoleOperator},
		{model.StatusApprovedByOperator, model.RoleSupervisor},
		{model.StatusApprovedBySupervisor, ""},
		{model.StatusFinalApproved, ""},
	},
	model.RequestTypeSet: {
		{model.StatusSetPending, model.RoleLeader},
		{model.StatusApprovedByLeader, model.RoleCashier},
		{model.StatusApprovedByCashier, model.RoleOperator},
		{model.StatusApprovedByOperator, model.RoleSupervisor},
		{model.StatusApprovedBySupervisor, ""},
		{model.StatusFinalApproved, ""},
	},
}

var terminal = map[model.RequestStatus]bool{
	model.StatusFinalApproved:    true,
	model.StatusDebtFound:        true,
	model.StatusCancelled:        true,
	model.StatusRejected:         true,
	model.StatusRejectedByLeader: true,
}

// InitialStatus returns the status a freshly created request starts in.
func InitialStatus(t model.RequestType) (model.RequestStatus, error) {
	path, ok := mainPaths[t]
	if !ok {
		return "", fmt.Errorf("unknown request type %q", t)
	}
	return path[0].status, nil
}

// IsTerminal reports whether no further edges leave status.
func IsTerminal(status model.RequestStatus) bool {
	return terminal[status]
}

// TerminalStatuses lists every terminal status.
func TerminalStatuses() []model.RequestStatus {
	return []model.RequestStatus{
		model.StatusFinalApproved, model.StatusDebtFound, model.StatusCancelled,
		model.StatusRejected, model.StatusRejectedByLeader,
	}
}

// NonTerminalStatuses lists every status a live request can rest in, across both types.
func NonTerminalStatuses() []model.RequestStatus {
	seen := map[model.RequestStatus]bool{}
	var out []model.RequestStatus
	for _, t := range []model.RequestType{model.RequestTypeSet, model.RequestTypeNormal} {
		for _, s := range mainPaths[t] {
			if !terminal[s.status] && !seen[s.status] {
				seen[s.status] = true
				out = append(out, s.status)
			}
		}
	}
	return out
}

func position(t model.RequestType, status model.RequestStatus) int {
	for i, s := range mainPaths[t] {
		if s.status == status {
			return i
		}
	}
	return -1
}

// StageRole returns the role that acts on a request resting in status.
// The second result is false for terminal statuses and for the system-only finalize step.
func StageRole(t model.RequestType, status model.RequestStatus) (model.Role, bool) {
	i := position(t, status)
	if i < 0 || mainPaths[t][i].role == "" {
		return "", false
	}
	return mainPaths[t][i].role, true
}

// StageStatus returns the status a request rests in while waiting for role, if role is part of the type's path.
func StageStatus(t model.RequestType, role model.Role) (model.RequestStatus, bool) {
	for _, s := range mainPaths[t] {
		if s.role == role && role != "" {
			return s.status, true
		}
	}
	return "", false
}

// Stages lists the approver roles of a type in order.
func Stages(t model.RequestType) []model.Role {
	var out []model.Role
	for _, s := range mainPaths[t] {
		if s.role != "" {
			out = append(out, s.role)
		}
	}
	return out
}

// Next returns the status reached by taking action from status, or an error when no such edge exists.
func Next(t model.RequestType, status model.RequestStatus, action Action) (model.RequestStatus, error) {
	i := position(t, status)
	if i < 0 {
		return "", fmt.Errorf("status %s is not part of the %s flow", status, t)
	}
	if terminal[status] {
		return "", fmt.Errorf("status %s is terminal", status)
	}
	path := mainPaths[t]
	switch action {
	case ActionApprove:
		if path[i].role == "" {
			break
		}
		return path[i+1].status, nil
	case ActionFinalize:
		if path[i].role != "" {
			break
		}
		return path[i+1].status, nil
	case ActionMarkDebt:
		return model.StatusDebtFound, nil
	case ActionCancel:
		return model.StatusCancelled, nil
	case ActionReject:
		if t == model.RequestTypeNormal {
			return model.StatusRejected, nil
		}
		if status == model.StatusSetPending {
			return model.StatusRejectedByLeader, nil
		}
	}
	return "", fmt.Errorf("action %s is not allowed from %s for %s requests", action, status, t)
}

// Outcome maps an action to the outcome recorded in the approval log.
func Outcome(action Action) model.ApprovalOutcome {
	switch action {
	case ActionMarkDebt:
		return model.OutcomeDebtMarked
	case ActionReject:
		return model.OutcomeRejected
	case ActionCancel:
		return model.OutcomeCancelled
	default:
		return model.OutcomeApproved
	}
}
