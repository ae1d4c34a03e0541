package model

import (
	"time"

	"github.com/google/uuid"
)

// ScopeKind names the organisational level a binding or block applies to.
type ScopeKind string

const (
	ScopeBrand  ScopeKind = "brand"
	ScopeBranch ScopeKind = "branch"
	ScopeAgent  ScopeKind = "agent"
)

// Valid reports whether k is one of the known scope levels.
func (k ScopeKind) Valid() bool {
	return k == ScopeBrand || k == ScopeBranch || k == ScopeAgent
}

// ScopeRef identifies one organisational unit.
type ScopeRef struct {
	Kind ScopeKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// Scope is the (brand, branch, agent) triple a request is raised against.
type Scope struct {
	BrandID  uuid.UUID `gorm:"type:uuid;not null;index" json:"brand_id"`
	BranchID uuid.UUID `gorm:"type:uuid;not null;index" json:"branch_id"`
	AgentID  uuid.UUID `gorm:"type:uuid;not null;index" json:"agent_id"`
}

// Refs expands the scope into its three unit references.
func (s Scope) Refs() []ScopeRef {
	return []ScopeRef{
		{Kind: ScopeBrand, ID: s.BrandID},
		{Kind: ScopeBranch, ID: s.BranchID},
		{Kind: ScopeAgent, ID: s.AgentID},
	}
}

// Ref returns the unit of the given level.
func (s Scope) Ref(kind ScopeKind) ScopeRef {
	switch kind {
	case ScopeBrand:
		return ScopeRef{Kind: ScopeBrand, ID: s.BrandID}
	case ScopeBranch:
		return ScopeRef{Kind: ScopeBranch, ID: s.BranchID}
	default:
		return ScopeRef{Kind: ScopeAgent, ID: s.AgentID}
	}
}

// Brand is the top organisational level
type Brand struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Branch belongs to a brand
type Branch struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BrandID   uuid.UUID `gorm:"type:uuid;not null;index" json:"brand_id"`
	Brand     *Brand    `gorm:"foreignKey:BrandID" json:"brand,omitempty"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent is a field-agent unit (SVR); requests are raised per agent and month
type Agent struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BranchID  uuid.UUID `gorm:"type:uuid;not null;index" json:"branch_id"`
	BrandID   uuid.UUID `gorm:"type:uuid;not null;index" json:"brand_id"`
	Code      string    `gorm:"type:varchar(50);index" json:"code"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
