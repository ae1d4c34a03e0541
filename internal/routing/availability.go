package routing

import (
	"context"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"

	"github.com/google/uuid"
)

func (r *router) blockedSet(ctx context.Context, refs []model.ScopeRef) (map[model.ScopeRef]bool, error) {
	items, err := r.blocks.ActiveFor(ctx, refs)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	out := make(map[model.ScopeRef]bool, len(items))
	for _, b := range items {
		out[b.Ref()] = true
	}
	return out, nil
}

// AvailableBrands lists active, unblocked brands.
func (r *router) AvailableBrands(ctx context.Context) ([]model.Brand, error) {
	brands, err := r.org.ListBrands(ctx)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	refs := make([]model.ScopeRef, len(brands))
	for i, b := range brands {
		refs[i] = model.ScopeRef{Kind: model.ScopeBrand, ID: b.ID}
	}
	blocked, err := r.blockedSet(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := brands[:0]
	for i, b := range brands {
		if !blocked[refs[i]] {
			out = append(out, b)
		}
	}
	return out, nil
}

// AvailableBranches lists active, unblocked branches of a brand that still have an available agent.
func (r *router) AvailableBranches(ctx context.Context, brandID uuid.UUID) ([]model.Branch, error) {
	blocked, err := r.blockedSet(ctx, []model.ScopeRef{{Kind: model.ScopeBrand, ID: brandID}})
	if err != nil || len(blocked) > 0 {
		return nil, err
	}
	branches, err := r.org.ListBranches(ctx, brandID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	var out []model.Branch
	for _, b := range branches {
		agents, err := r.AvailableAgents(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if len(agents) > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

// AvailableAgents lists active, unblocked agents of a branch with no open request.
// This is what keeps two open requests off the same agent.
func (r *router) AvailableAgents(ctx context.Context, branchID uuid.UUID) ([]model.Agent, error) {
	branch, err := r.org.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	agents, err := r.org.ListAgents(ctx, branchID)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	refs := []model.ScopeRef{
		{Kind: model.ScopeBrand, ID: branch.BrandID},
		{Kind: model.ScopeBranch, ID: branch.ID},
	}
	ids := make([]uuid.UUID, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
		refs = append(refs, model.ScopeRef{Kind: model.ScopeAgent, ID: a.ID})
	}
	blocked, err := r.blockedSet(ctx, refs)
	if err != nil {
		return nil, err
	}
	if blocked[refs[0]] || blocked[refs[1]] {
		return nil, nil
	}
	open, err := r.requests.OpenAgentIDs(ctx, ids)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	var out []model.Agent
	for _, a := range agents {
		if !open[a.ID] && !blocked[model.ScopeRef{Kind: model.ScopeAgent, ID: a.ID}] {
			out = append(out, a)
		}
	}
	return out, nil
}
