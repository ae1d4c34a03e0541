package routing

import (
	"debtapproval/internal/model"
)

// assignmentScope is the unit a stage's round robin rotates within.
func assignmentScope(role model.Role, s model.Scope) (model.ScopeRef, bool) {
	switch role {
	case model.RoleCashier:
		return s.Ref(model.ScopeBranch), true
	case model.RoleOperator:
		return s.Ref(model.ScopeBrand), true
	default:
		return model.ScopeRef{}, false
	}
}

// covers decides whether a user's applicable bindings qualify them for role on scope s.
// Leader and operator are brand-scoped, cashier is branch-scoped, supervisor needs
// brand and branch coverage. A binding on the request's own agent covers every level.
func covers(role model.Role, s model.Scope, bindings []model.RoleScopeBinding) []model.RoleScopeBinding {
	var agent, brand, branch []model.RoleScopeBinding
	hasBrandKind, hasBranchKind := false, false
	for _, b := range bindings {
		switch b.ScopeKind {
		case model.ScopeAgent:
			if b.ScopeID == s.AgentID {
				agent = append(agent, b)
			}
		case model.ScopeBrand:
			hasBrandKind = true
			if b.ScopeID == s.BrandID {
				brand = append(brand, b)
			}
		case model.ScopeBranch:
			hasBranchKind = true
			if b.ScopeID == s.BranchID {
				branch = append(branch, b)
			}
		}
	}

	var matched []model.RoleScopeBinding
	switch role {
	case model.RoleLeader, model.RoleOperator:
		matched = append(brand, agent...)
	case model.RoleCashier:
		matched = append(branch, agent...)
	case model.RoleSupervisor:
		brandOK := len(brand) > 0 || !hasBrandKind
		branchOK := len(branch) > 0 || !hasBranchKind
		if brandOK && branchOK && len(brand)+len(branch) > 0 {
			matched = append(append(matched, brand...), branch...)
		}
		matched = append(matched, agent...)
	}
	return matched
}
