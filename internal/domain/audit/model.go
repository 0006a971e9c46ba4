package audit

import (
	"strconv"
	"time"
)

// UpdateType classifies a problem_updates row.
type UpdateType string

const (
	TypeStatus        UpdateType = "status"
	TypeAssignment    UpdateType = "assignment"
	TypeEscalation    UpdateType = "escalation"
	TypeResponse      UpdateType = "response"
	TypeComment       UpdateType = "comment"
	TypeProfileUpdate UpdateType = "profile_update"
)

func (t UpdateType) Valid() bool {
	switch t {
	case TypeStatus, TypeAssignment, TypeEscalation, TypeResponse, TypeComment, TypeProfileUpdate:
		return true
	}
	return false
}

// Entry maps to the problem_updates table. Entries are never modified after
// they are written.
type Entry struct {
	ID            int64      `db:"id" json:"id"`
	ProblemID     int64      `db:"problem_id" json:"problem_id"`
	UpdatedBy     int64      `db:"updated_by" json:"updated_by"`
	UpdatedByName string     `db:"-" json:"updated_by_name,omitempty"`
	UpdateType    UpdateType `db:"update_type" json:"update_type"`
	OldValue      *string    `db:"old_value" json:"old_value"`
	NewValue      *string    `db:"new_value" json:"new_value"`
	Notes         string     `db:"notes" json:"notes"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Value returns a pointer to v, or nil when v is empty.
func Value(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func IDValue(id int64) *string {
	return Value(strconv.FormatInt(id, 10))
}
