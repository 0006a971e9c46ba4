package problem

import (
	"time"

	"github.com/villagecare/villagecare/internal/platform/auth"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusEscalated  Status = "escalated"
	StatusResolved   Status = "resolved"
	StatusCompleted  Status = "completed"
)

// Statuses lists every lifecycle state in workflow order.
var Statuses = []Status{
	StatusPending, StatusAssigned, StatusInProgress, StatusEscalated, StatusResolved, StatusCompleted,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the case is closed. Closed cases carry a
// resolved_at timestamp.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusCompleted
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Problem maps to the problems table.
type Problem struct {
	ID               int64      `db:"id" json:"id"`
	VillagerID       int64      `db:"villager_id" json:"villager_id"`
	VillagerName     string     `db:"-" json:"villager_name,omitempty"`
	AssignedTo       *int64     `db:"assigned_to" json:"assigned_to"`
	EscalatedTo      *int64     `db:"escalated_to" json:"escalated_to"`
	Title            string     `db:"title" json:"title"`
	Description      string     `db:"description" json:"description"`
	Category         string     `db:"category" json:"category"`
	Priority         Priority   `db:"priority" json:"priority"`
	Status           Status     `db:"status" json:"status"`
	Photo            *string    `db:"photo" json:"photo"`
	Location         string     `db:"location" json:"location"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at"`
	EscalationDate   *time.Time `db:"escalation_date" json:"escalation_date"`
	LastResponseDate *time.Time `db:"last_response_date" json:"last_response_date"`
}

func (pr *Problem) assignedTo(id int64) bool {
	return pr.AssignedTo != nil && *pr.AssignedTo == id
}

func (pr *Problem) escalatedTo(id int64) bool {
	return pr.EscalatedTo != nil && *pr.EscalatedTo == id
}

type CreateInput struct {
	// VillagerID is only honoured for admins filing on a villager's behalf.
	VillagerID  int64    `json:"villager_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    Priority `json:"priority"`
	Location    string   `json:"location"`
	Photo       string   `json:"photo,omitempty"`
}

type StatusInput struct {
	Status Status `json:"status"`
	Notes  string `json:"notes"`
}

// EscalateInput targets one doctor, or every active doctor when DoctorID is
// nil.
type EscalateInput struct {
	DoctorID *int64 `json:"doctor_id"`
	Notes    string `json:"notes"`
}

type ListFilter struct {
	Status   Status
	Priority Priority
	Category string
	Keyword  string
	// Mine narrows to the caller's own queue: an officer's assignments or a
	// doctor's direct and broadcast escalations.
	Mine   bool
	Limit  int
	Offset int
}

type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// Scope is the set of problems a principal may see.
type Scope struct {
	Role   string
	UserID int64
	Mine   bool
}

func ScopeFor(p auth.Principal) Scope {
	return Scope{Role: p.Role, UserID: p.UserID}
}

// Allows applies the access rule to one problem. Mine is ignored here; it
// only narrows listings.
func (s Scope) Allows(pr *Problem) bool {
	switch s.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleVillager:
		return pr.VillagerID == s.UserID
	case auth.RoleAVMS:
		return pr.AssignedTo == nil || pr.assignedTo(s.UserID)
	case auth.RoleDoctor:
		return pr.Status == StatusEscalated || pr.escalatedTo(s.UserID)
	}
	return false
}

// Matches applies both the access rule and the Mine narrowing.
func (s Scope) Matches(pr *Problem) bool {
	if !s.Allows(pr) {
		return false
	}
	if !s.Mine {
		return true
	}
	switch s.Role {
	case auth.RoleAVMS:
		return pr.assignedTo(s.UserID)
	case auth.RoleDoctor:
		return pr.escalatedTo(s.UserID) || (pr.EscalatedTo == nil && pr.Status == StatusEscalated)
	}
	return true
}
