package consultation

import "time"

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Response maps to the medical_responses table. Rows are append-only.
type Response struct {
	ID               int64     `db:"id" json:"id"`
	ProblemID        int64     `db:"problem_id" json:"problem_id"`
	DoctorID         int64     `db:"doctor_id" json:"doctor_id"`
	DoctorName       string    `db:"-" json:"doctor_name,omitempty"`
	Response         string    `db:"response" json:"response"`
	Recommendations  string    `db:"recommendations" json:"recommendations"`
	FollowUpRequired bool      `db:"follow_up_required" json:"follow_up_required"`
	UrgencyLevel     Urgency   `db:"urgency_level" json:"urgency_level"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

type SubmitInput struct {
	Response         string  `json:"response"`
	Recommendations  string  `json:"recommendations"`
	FollowUpRequired bool    `json:"follow_up_required"`
	UrgencyLevel     Urgency `json:"urgency_level"`
	// CompleteCase moves the problem to completed in the same transaction.
	CompleteCase bool `json:"complete_case"`
}

type SubmitResult struct {
	Success    bool  `json:"success"`
	ResponseID int64 `json:"response_id"`
	// NotificationsSent counts the response notices to the officer, villager
	// and doctor. The status notice sent when CompleteCase closes the problem
	// belongs to the status change and is not included.
	NotificationsSent int    `json:"notifications_sent"`
	Message           string `json:"message"`
}
