package routing

import (
	"slices"
	"strings"

	"debtapproval/internal/model"

	"github.com/google/uuid"
)

// sourceOrder fixes the order reasons are listed in a merged candidate.
var sourceOrder = []model.BindingSource{
	model.SourceAssignment, model.SourceBinding, model.SourceRole, model.SourceFallback,
}

// Entry is one (user, source) pair before merging.
type Entry struct {
	User   model.User
	Source model.BindingSource
}

// Candidate is a user eligible for a stage, with every source that qualified them.
type Candidate struct {
	User    model.User            `json:"user"`
	Reasons []model.BindingSource `json:"reasons"`
}

// Reason joins the sources, e.g. "assignment+binding".
func (c Candidate) Reason() string {
	parts := make([]string, len(c.Reasons))
	for i, r := range c.Reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, "+")
}

// MergeCandidates collapses entries to one candidate per user id, ordered by id.
func MergeCandidates(entries []Entry) []Candidate {
	byUser := make(map[uuid.UUID]*Candidate, len(entries))
	for _, e := range entries {
		c, ok := byUser[e.User.ID]
		if !ok {
			c = &Candidate{User: e.User}
			byUser[e.User.ID] = c
		}
		if !slices.Contains(c.Reasons, e.Source) {
			c.Reasons = append(c.Reasons, e.Source)
		}
	}

	out := make([]Candidate, 0, len(byUser))
	for _, c := range byUser {
		slices.SortFunc(c.Reasons, func(a, b model.BindingSource) int {
			return slices.Index(sourceOrder, a) - slices.Index(sourceOrder, b)
		})
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		return strings.Compare(a.User.ID.String(), b.User.ID.String())
	})
	return out
}

// Audience is who may act on a request's current stage.
// Primary is informational; any candidate may act.
type Audience struct {
	Role       model.Role  `json:"role"`
	Candidates []Candidate `json:"candidates"`
	Primary    *Candidate  `json:"primary,omitempty"`
	Fallback   bool        `json:"fallback"`
}

// Contains reports whether userID is one of the candidates.
func (a *Audience) Contains(userID uuid.UUID) bool {
	if a == nil {
		return false
	}
	return slices.ContainsFunc(a.Candidates, func(c Candidate) bool { return c.User.ID == userID })
}

// UserIDs lists candidate ids in candidate order.
func (a *Audience) UserIDs() []uuid.UUID {
	if a == nil {
		return nil
	}
	ids := make([]uuid.UUID, len(a.Candidates))
	for i, c := range a.Candidates {
		ids[i] = c.User.ID
	}
	return ids
}
